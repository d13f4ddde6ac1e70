// Package rpc implements the controller-to-node-agent transport: plain Go
// structs carried over gRPC under a JSON content-subtype, in place of a
// protoc-generated stub, plus the HTTP status mapping for the REST layer
// fronting the controller.
package rpc

import "github.com/fluxgrid/fluxgrid/pkg/types"

// NodePartSize is the chunk size used to stream a pipeline binary to a
// node agent during StartWorker.
const NodePartSize = 2 * 1024 * 1024

// Header is the first frame of a StartWorker stream.
type Header struct {
	Name       string
	JobID      types.JobID
	RunID      types.RunID
	Wasm       []byte
	Slots      int
	NodeID     types.NodeID
	EnvVars    map[string]string
	BinarySize int64
}

// Data is one chunk of the pipeline binary, streamed after Header.
type Data struct {
	Part    uint32
	Data    []byte
	HasMore bool
}

// StartWorkerFrame tags which of Header/Data a streamed StartWorker
// message carries. Exactly one field is set per frame.
type StartWorkerFrame struct {
	Header *Header `json:"header,omitempty"`
	Data   *Data   `json:"data,omitempty"`
}

// StartWorkerResp is returned once the node agent has materialized the
// binary and spawned the worker.
type StartWorkerResp struct {
	WorkerID types.WorkerID
}

// StopWorkerReq requests a worker be stopped.
type StopWorkerReq struct {
	JobID    types.JobID
	WorkerID types.WorkerID
	Force    bool
}

// Stop status strings, matching the Ok|NotFound|StopFailed contract.
const (
	StopStatusOk         = "ok"
	StopStatusNotFound   = "not_found"
	StopStatusStopFailed = "stop_failed"
)

// StopWorkerResp carries the outcome of a StopWorker call.
type StopWorkerResp struct {
	Status string
}

// Ack is an empty acknowledgement for calls with no return value.
type Ack struct{}
