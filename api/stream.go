package api

// MsgType is a message type for streaming batch progress
type MsgType string

const (
	UpdateBatchMsg MsgType = "batch_update"
	FinishBatchMsg MsgType = "batch_finish"
	FailBatchMsg   MsgType = "batch_fail"
	KillRunMsg     MsgType = "run_kill"
)

// Header is the common header for all streaming messages
type Header struct {
	BatchUuid string  `json:"batch_uuid"`
	MsgType   MsgType `json:"msg_type"`
}

// RunState is the current state of one run of a batch
type RunState struct {
	Index     int     `json:"index"`
	Status    string  `json:"status"`
	Runtime   float64 `json:"runtime"`
	RunLength float64 `json:"run_length"`
	Quality   float64 `json:"quality"`
	Seed      int64   `json:"seed"`
	Extra     string  `json:"extra,omitempty"`
	WallMs    int64   `json:"wall_ms"`
}

// UpdateBatch carries a snapshot of every run of a batch
type UpdateBatch struct {
	Header
	Runs []RunState `json:"runs"`
}

// FinishBatch carries the terminal state of every run of a batch
type FinishBatch struct {
	Header
	Runs []RunState `json:"runs"`
}

// FailBatch is sent when the worker could not evaluate the batch at all
type FailBatch struct {
	Header
	ErrorMessage string `json:"error_message"`
}

// KillRun asks the worker to terminate one run
type KillRun struct {
	Header
	Index int `json:"index"`
}

func NewHeader(batchUuid string, msgType MsgType) Header {
	return Header{
		BatchUuid: batchUuid,
		MsgType:   msgType,
	}
}

func NewUpdateBatch(batchUuid string, runs []RunState) UpdateBatch {
	return UpdateBatch{Header: NewHeader(batchUuid, UpdateBatchMsg), Runs: runs}
}

func NewFinishBatch(batchUuid string, runs []RunState) FinishBatch {
	return FinishBatch{Header: NewHeader(batchUuid, FinishBatchMsg), Runs: runs}
}

func NewFailBatch(batchUuid string, errorMessage string) FailBatch {
	return FailBatch{Header: NewHeader(batchUuid, FailBatchMsg), ErrorMessage: errorMessage}
}

func NewKillRun(batchUuid string, index int) KillRun {
	return KillRun{Header: NewHeader(batchUuid, KillRunMsg), Index: index}
}
