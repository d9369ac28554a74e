// Package internal contains the implementation packages for meread.
//
// # Package Organization
//
//   - watcher: fsnotify-backed change events for the document directory
//   - coordinator: debounces change events and runs one rebuild at a time
//   - cache: holds the last successfully rendered page
//   - renderer: markdown to HTML with front matter, highlighting and outline
//   - reload: the reload bus, SSE and WebSocket streams, and script injection
//   - server: HTTP routes and lifecycle tying the pipeline together
//   - export: one-shot static export of the rendered page
//   - assets: embedded stylesheet and icon
//   - monitoring: Prometheus metrics and the health report
//   - config, errors, logging, validation, version: ambient support
//
// # Data Flow
//
//	watcher -> coordinator -> cache.Rebuild -> reload.Bus -> SSE/WebSocket clients
//
// HTTP requests for the page read the cache and pass through the reload
// injector, which adds the client script to HTML responses.
package internal
