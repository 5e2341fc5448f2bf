package web

import (
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// NewServer creates and configures the RWeb server for the device-local UI.
func NewServer(address string) *rweb.Server {
	s := rweb.NewServer(rweb.ServerOptions{
		Address: address,
		Verbose: true,
	})

	s.Use(rweb.RequestInfo)
	s.Use(CorsMiddleware)
	s.Use(SecurityHeadersMiddleware)
	s.Use(LoggingMiddleware)

	setupRoutes(s)

	return s
}

// NewTestServer builds a fully wired server from explicit options, so
// integration tests can use a dynamic port and a ready channel.
func NewTestServer(opts rweb.ServerOptions) *rweb.Server {
	s := rweb.NewServer(opts)

	s.Use(rweb.RequestInfo)
	s.Use(CorsMiddleware)
	s.Use(SecurityHeadersMiddleware)
	s.Use(LoggingMiddleware)

	setupRoutes(s)

	return s
}

// Run starts the server.
func Run(s *rweb.Server, address string) error {
	logger.Info("Caddie local server starting", "address", address)
	return s.Run()
}
