// Package http serves the runnerd REST API with gin.
//
// Routes under /api/v1 submit, inspect and tear down deployments, compute
// runner identities and verify runner tokens. /health reflects worker pool
// health and /metrics serves Prometheus.
package http
