/*
Package quickapi is an HTTP API framework built around a route table, an
ordered middleware chain, a dispatcher and a streaming response adapter.

Handlers take a request and return a response or an error. A nil response
is sent as 204 No Content. Errors of type *http.Error keep their status;
any other error or a panic becomes a structured 500 and the server keeps
serving.

Quick Start

	package main

	import (
		"context"

		"github.com/searchktools/quickapi/app"
		"github.com/searchktools/quickapi/config"
		"github.com/searchktools/quickapi/core/http"
	)

	func main() {
		cfg, err := config.New()
		if err != nil {
			panic(err)
		}
		application := app.New(cfg)

		application.Engine().GET("/items/{id}", func(req *http.Request) (*http.Response, error) {
			return http.JSON(200, map[string]string{"id": req.Param("id")})
		})

		if err := application.Run(context.Background()); err != nil {
			panic(err)
		}
	}

Routing

Patterns are literal segments, {name} or :name parameters and a trailing
{name...} or *name wildcard. Literal segments beat parameters, parameters
beat wildcards. A path that matches a pattern under another method yields
405 with an Allow header; OPTIONS is answered automatically from the same
set.

Streaming

A response carrying a stream.Stream is written chunk by chunk with a flush
after each chunk. The stream is closed when it ends, fails, or the client
goes away. Package sse formats Server-Sent Events and package websocket
upgrades a route to a framed message session.

Packages

  - app: service lifecycle, hooks and graceful shutdown
  - config: layered YAML, environment and flag configuration
  - core: engine, dispatcher and net/http adapter
  - core/http: request, response, codecs and errors
  - core/router: the route table
  - core/middleware: chain and built-in middleware
  - core/stream: pull-based response streams
  - core/sse: Server-Sent Events and a broadcast broker
  - core/websocket: RFC 6455 connections and a session hub
  - core/server: HTTP/1.1 and HTTP/2 transport with socket tuning
  - core/observability: Prometheus metrics and route statistics
  - core/docs: OpenAPI document generated from the route table
*/
package quickapi
