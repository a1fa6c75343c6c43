// Package grpc serves the gRPC health and reflection services.
//
// The overall and "runnerd.workers" health statuses follow the worker pool:
// NOT_SERVING once any worker has stopped.
package grpc
