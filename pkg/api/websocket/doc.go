// Package websocket streams deployment lifecycle events to clients.
//
// Clients connect to /api/v1/deployments/:id/ws and receive every event
// published for that deployment as a JSON text message, in publication
// order, until they disconnect.
package websocket
