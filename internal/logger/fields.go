package logger

// Standard field keys for structured logging. Use these consistently across
// all log statements so logs can be aggregated and queried by key.
//
// Access codes, passphrases, raw filenames, and URL fragments must never be
// logged; only sanitized filenames and opaque identifiers appear in fields.
const (
	KeyRequestID = "request_id" // HTTP request correlation ID
	KeyClientIP  = "client_ip"  // remote client address (no port)
	KeyMethod    = "method"     // HTTP method
	KeyPath      = "path"       // HTTP request path (never includes fragments)
	KeyStatus    = "status"     // HTTP response status code
	KeyDuration  = "duration"   // operation duration

	KeyUploadID    = "upload_id"    // upload session identifier
	KeyClipID      = "clip_id"      // clip identifier
	KeyChunk       = "chunk"        // chunk number within a session
	KeySize        = "size"         // byte count
	KeyFilename    = "filename"     // sanitized display filename
	KeyContentType = "content_type" // clip content type: text or file

	KeyError = "error" // error detail
	KeySweep = "sweep" // sweep pass identifier
)
