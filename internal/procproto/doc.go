// Package procproto defines the messages exchanged between the host and the
// external worker processes it supervises, together with their numeric
// message ids and their protobuf wire encoding.
//
// Message ids are part of the wire contract and must match on both ends:
//
//	1 AppStarted        process → host
//	2 FuncCallReq       host → process
//	3 FuncCallResp      process → host
//	4 UpdateCheckpoint  process → host
//	5 KvRequest         process → host
//	6 KvResponse        host → process
//
// FuncCallReq/FuncCallResp and KvRequest/KvResponse are request/response
// pairs; a response carries the task id of its request.
package procproto
