package constants

// Durable queue names shared by publishers and consumers.
const (
	TaskQueue   = "file_processing_queue"
	ResultQueue = "file_processing_results"
)

// DuplicateNote is stored as the payload of jobs flagged by the checksum gate.
const DuplicateNote = "Duplicate file detected."

// UploadFailureNote is appended to the payload when object storage rejects an upload.
const UploadFailureNote = "Warning: failed to upload to object storage."
