// Package ws implements the WebSocket hub for btscan-server.
//
// Hub broadcasts the station snapshot to every connected client on a fixed
// interval (server.broadcast_interval, default 5s). A client receives the
// current snapshot immediately on connect. The server mounts the hub at
// /ws/stream.
//
// Message format:
//
//	{
//	  "event": "snapshot",
//	  "data":  { same schema as GET /api/v1/snapshot }
//	}
package ws
