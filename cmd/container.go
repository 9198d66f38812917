package cmd

import (
	"io"

	"github.com/samber/do/v2"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
	"github.com/audiolibrelab/interviewcapture/internal/config"
	"github.com/audiolibrelab/interviewcapture/internal/console"
	"github.com/audiolibrelab/interviewcapture/internal/media"
	"github.com/audiolibrelab/interviewcapture/internal/play"
	"github.com/audiolibrelab/interviewcapture/internal/server"
	"github.com/audiolibrelab/interviewcapture/internal/service"
)

// setupDI builds the object graph for one interview session
func setupDI(c *config.Config, configFile string, out io.Writer) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, c)
	do.ProvideValue(injector, console.New(out, server.BaseURL(c.Preview.Listen)))
	do.ProvideValue(injector, play.New())

	do.Provide(injector, func(i do.Injector) (*backend.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		return backend.New(c.Backend), nil
	})

	do.Provide(injector, func(i do.Injector) (*server.PreviewStore, error) {
		return server.NewPreviewStore(), nil
	})

	do.Provide(injector, func(i do.Injector) (*media.Manager, error) {
		c := do.MustInvoke[*config.Config](i)
		renderer := do.MustInvoke[*console.Renderer](i)
		return media.NewManager(
			media.NewLocalDevices(c),
			renderer,
			media.NewFFmpegRecorderFactory(c.Capture),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (service.Service, error) {
		c := do.MustInvoke[*config.Config](i)
		client := do.MustInvoke[*backend.Client](i)
		manager := do.MustInvoke[*media.Manager](i)
		previews := do.MustInvoke[*server.PreviewStore](i)
		return service.New(c, client, manager, previews), nil
	})

	do.Provide(injector, func(i do.Injector) (*server.Server, error) {
		c := do.MustInvoke[*config.Config](i)
		svc := do.MustInvoke[service.Service](i)
		previews := do.MustInvoke[*server.PreviewStore](i)
		return server.New(svc, previews, configFile, c.Preview.Listen), nil
	})

	return injector
}
