/*
Package monitoring provides Prometheus metrics for notebookd.

# Overview

Metrics live on a private registry so tests and embedded servers never
collide with the global default registry. The collector tracks HTTP
requests, dispatched protocol operations, live sessions, cell executions,
push channel connections and op fan-out, and calls on the gRPC health
server.

Metrics satisfies the observer interfaces of the session registry, the
dispatcher and the event hub, so one value is passed to all of them.

# Usage

	metrics := monitoring.NewMetrics()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	grpc.NewServer(grpc.ChainUnaryInterceptor(monitoring.GRPCUnaryInterceptor(metrics)))
*/
package monitoring
