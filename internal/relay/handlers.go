package relay

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kenneth/secsend/internal/audit"
	cryptopkg "github.com/kenneth/secsend/internal/crypto"
	"github.com/kenneth/secsend/internal/id"
	"github.com/kenneth/secsend/internal/metadata"
	"github.com/kenneth/secsend/internal/middleware"
	"github.com/kenneth/secsend/internal/relayerr"
	"github.com/kenneth/secsend/internal/store"
)

// maxIDGenerationAttempts bounds upload/new's collision retry loop.
const maxIDGenerationAttempts = 8

// HandleUploadNew implements POST /v1/upload/new.
func (s *Server) HandleUploadNew(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.finishRequest(w, r, "upload_new", "", "", start, writeError(w, errSchemaf("read body: %v", err)), err)
		return
	}

	rec, err := metadata.ParseNew(body)
	if err != nil {
		s.finishRequest(w, r, "upload_new", "", "", start, writeError(w, err), err)
		return
	}
	cfg := s.Config()
	if !cfg.AllowedTimeout(rec.TimeoutS) {
		s.finishRequest(w, r, "upload_new", "", "", start, writeError(w, relayerr.ErrInvalidTimeout), relayerr.ErrInvalidTimeout)
		return
	}

	var rootID id.ID
	var created bool
	for attempt := 0; attempt < maxIDGenerationAttempts; attempt++ {
		candidate, genErr := id.GenerateRoot()
		if genErr != nil {
			s.finishRequest(w, r, "upload_new", "", "", start, writeError(w, genErr), genErr)
			return
		}
		fileID, derivErr := id.FileIDOf(candidate)
		if derivErr != nil {
			s.finishRequest(w, r, "upload_new", "", "", start, writeError(w, derivErr), derivErr)
			return
		}
		obj := store.New(s.backend, fileID, s.clock)
		createErr := obj.Create(r.Context(), rec)
		if createErr == nil {
			rootID = candidate
			created = true
			break
		}
		if !errors.Is(createErr, relayerr.ErrIDExists) {
			s.finishRequest(w, r, "upload_new", "", "", start, writeError(w, createErr), createErr)
			return
		}
	}
	if !created {
		s.finishRequest(w, r, "upload_new", "", "", start, writeError(w, relayerr.ErrIDUnavailable), relayerr.ErrIDUnavailable)
		return
	}

	rootStr := id.Render(rootID)
	writeJSON(w, http.StatusOK, struct {
		RootID string `json:"root_id"`
	}{RootID: rootStr})
	s.finishRequest(w, r, "upload_new", "", rootStr, start, http.StatusOK, nil)
}

// HandleUploadPush implements POST /v1/upload/push/<root_id>.
// It holds the write lock for the entire request body and, if
// filesize_limit is crossed, deletes the object and returns 400.
func (s *Server) HandleUploadPush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rootStr := mux.Vars(r)["root_id"]
	rootID, err := id.ParseRoot(rootStr)
	if err != nil {
		s.finishRequest(w, r, "upload_push", "", rootStr, start, writeError(w, err), err)
		return
	}
	fileID, err := id.FileIDOf(rootID)
	if err != nil {
		s.finishRequest(w, r, "upload_push", "", rootStr, start, writeError(w, err), err)
		return
	}
	obj := store.New(s.backend, fileID, s.clock)

	unlocker, err := obj.LockWrite(r.Context())
	if err != nil {
		s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, writeError(w, err), err)
		if errors.Is(err, relayerr.ErrFileLocked) {
			s.metrics.RecordLockContended()
		}
		return
	}
	defer unlocker.Unlock(r.Context())

	rec, err := obj.Metadata(r.Context())
	if err != nil {
		s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, writeError(w, err), err)
		return
	}
	if rec.Complete {
		s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, writeError(w, relayerr.ErrAlreadyComplete), relayerr.ErrAlreadyComplete)
		return
	}

	currentSize, err := obj.Size(r.Context())
	if err != nil {
		s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, writeError(w, err), err)
		return
	}

	dst, err := obj.StreamAppend(r.Context())
	if err != nil {
		s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, writeError(w, err), err)
		return
	}

	cfg := s.Config()
	var written int64
	var limitErr error
	if cfg.FilesizeLimit > 0 {
		lw := &limitedWriter{dst: dst, limit: cfg.FilesizeLimit, total: currentSize}
		written, limitErr = io.Copy(lw, r.Body)
	} else {
		written, limitErr = io.Copy(dst, r.Body)
	}
	closeErr := dst.Close()

	if errors.Is(limitErr, errSizeLimitExceeded) {
		_ = obj.Delete(r.Context())
		s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, writeError(w, relayerr.ErrSizeLimitExceeded), relayerr.ErrSizeLimitExceeded)
		return
	}
	if limitErr != nil {
		s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, writeError(w, limitErr), limitErr)
		return
	}
	if closeErr != nil {
		s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, writeError(w, closeErr), closeErr)
		return
	}

	s.metrics.RecordObjectSize("upload_push", written)
	writeJSON(w, http.StatusOK, struct{}{})
	s.finishRequest(w, r, "upload_push", id.Render(fileID), rootStr, start, http.StatusOK, nil)
}

// HandleUploadFinish implements POST /v1/upload/finish/<root_id>.
func (s *Server) HandleUploadFinish(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rootStr := mux.Vars(r)["root_id"]
	rootID, err := id.ParseRoot(rootStr)
	if err != nil {
		s.finishRequest(w, r, "upload_finish", "", rootStr, start, writeError(w, err), err)
		return
	}
	fileID, err := id.FileIDOf(rootID)
	if err != nil {
		s.finishRequest(w, r, "upload_finish", "", rootStr, start, writeError(w, err), err)
		return
	}
	obj := store.New(s.backend, fileID, s.clock)

	unlocker, err := obj.LockWrite(r.Context())
	if err != nil {
		s.finishRequest(w, r, "upload_finish", id.Render(fileID), rootStr, start, writeError(w, err), err)
		if errors.Is(err, relayerr.ErrFileLocked) {
			s.metrics.RecordLockContended()
		}
		return
	}
	defer unlocker.Unlock(r.Context())

	rec, err := obj.Metadata(r.Context())
	if err != nil {
		s.finishRequest(w, r, "upload_finish", id.Render(fileID), rootStr, start, writeError(w, err), err)
		return
	}
	if err := obj.SetComplete(r.Context(), rec.TimeoutS); err != nil {
		s.finishRequest(w, r, "upload_finish", id.Render(fileID), rootStr, start, writeError(w, err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
	s.finishRequest(w, r, "upload_finish", id.Render(fileID), rootStr, start, http.StatusOK, nil)
}

// HandleMetadata implements GET /v1/metadata/<file_id>.
func (s *Server) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	fileStr := mux.Vars(r)["file_id"]
	fileID, err := id.ParseFile(fileStr)
	if err != nil {
		s.finishRequest(w, r, "metadata_fetch", fileStr, "", start, writeError(w, err), err)
		return
	}
	obj := store.New(s.backend, fileID, s.clock)

	rec, err := obj.Metadata(r.Context())
	if err != nil {
		s.finishRequest(w, r, "metadata_fetch", fileStr, "", start, writeError(w, err), err)
		return
	}
	size, err := obj.Size(r.Context())
	if err != nil {
		s.finishRequest(w, r, "metadata_fetch", fileStr, "", start, writeError(w, err), err)
		return
	}
	wire, err := metadata.Marshal(rec)
	if err != nil {
		s.finishRequest(w, r, "metadata_fetch", fileStr, "", start, writeError(w, err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Metadata rawJSON `json:"metadata"`
		Size     int64   `json:"size"`
	}{Metadata: rawJSON(wire), Size: size})
	s.finishRequest(w, r, "metadata_fetch", fileStr, "", start, http.StatusOK, nil)
}

// HandleDownload implements GET /v1/download/<file_id>, Range-capable,
// serving Range against the stored ciphertext bytes.
func (s *Server) HandleDownload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	fileStr := mux.Vars(r)["file_id"]
	fileID, err := id.ParseFile(fileStr)
	if err != nil {
		s.finishRequest(w, r, "download", fileStr, "", start, writeError(w, err), err)
		return
	}
	obj := store.New(s.backend, fileID, s.clock)

	rec, err := obj.Metadata(r.Context())
	if err != nil {
		s.finishRequest(w, r, "download", fileStr, "", start, writeError(w, err), err)
		return
	}
	if !rec.Complete {
		s.finishRequest(w, r, "download", fileStr, "", start, writeError(w, relayerr.ErrIDUnknown), relayerr.ErrIDUnknown)
		return
	}
	size, err := obj.Size(r.Context())
	if err != nil {
		s.finishRequest(w, r, "download", fileStr, "", start, writeError(w, err), err)
		return
	}

	start64, end64, status := int64(0), size-1, http.StatusOK
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		s64, e64, rerr := cryptopkg.ParseHTTPRange(rangeHeader, size)
		if rerr != nil {
			w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			s.finishRequest(w, r, "download", fileStr, "", start, http.StatusRequestedRangeNotSatisfiable, rerr)
			http.Error(w, rerr.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
		start64, end64, status = s64, e64, http.StatusPartialContent
	}

	reader, err := obj.StreamRead(r.Context(), start64)
	if err != nil {
		s.finishRequest(w, r, "download", fileStr, "", start, writeError(w, err), err)
		return
	}
	defer reader.Close()

	length := end64 - start64 + 1
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start64, 10)+"-"+strconv.FormatInt(end64, 10)+"/"+strconv.FormatInt(size, 10))
	}
	w.WriteHeader(status)

	written, _ := io.Copy(w, io.LimitReader(reader, length))
	s.metrics.RecordObjectSize("download", written)
	s.finishRequest(w, r, "download", fileStr, "", start, status, nil)
}

// HandleDelete implements POST /v1/delete/<root_id>. Only root-ids
// authenticate deletion: possession of the root-id is the
// authentication; a file-id fails with IDWrongType -> 400.
func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rawStr := mux.Vars(r)["root_id"]
	rootID, err := id.ParseRoot(rawStr)
	if err != nil {
		s.finishRequest(w, r, "delete", "", rawStr, start, writeError(w, err), err)
		return
	}
	fileID, err := id.FileIDOf(rootID)
	if err != nil {
		s.finishRequest(w, r, "delete", "", rawStr, start, writeError(w, err), err)
		return
	}
	obj := store.New(s.backend, fileID, s.clock)

	if err := obj.Delete(r.Context()); err != nil {
		s.finishRequest(w, r, "delete", id.Render(fileID), rawStr, start, writeError(w, err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
	s.finishRequest(w, r, "delete", id.Render(fileID), rawStr, start, http.StatusOK, nil)
}

// HandleConfig implements GET /v1/config: the server's advertised
// timeout/filesize policy, so clients can pre-validate upload/new's
// timeout_s before spending a round-trip.
func (s *Server) HandleConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := s.Config()
	writeJSON(w, http.StatusOK, struct {
		TimeoutSValid []int64 `json:"timeout_s_valid"`
		FilesizeLimit int64   `json:"filesize_limit"`
	}{TimeoutSValid: cfg.TimeoutSValid, FilesizeLimit: cfg.FilesizeLimit})
	s.finishRequest(w, r, "config", "", "", start, http.StatusOK, nil)
}

// finishRequest records metrics, structured logs, and an audit event
// for one completed handler invocation.
func (s *Server) finishRequest(w http.ResponseWriter, r *http.Request, verb, fileID, rootID string, start time.Time, status int, err error) {
	duration := s.since(start)
	s.metrics.RecordRequest(r.Context(), verb, status, duration)

	fields := map[string]interface{}{
		"verb":        verb,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
		"request_id":  middleware.RequestID(r.Context()),
	}
	if fileID != "" {
		fields["file_id"] = fileID
	}
	entry := s.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Warn("relay request failed")
	} else {
		entry.Debug("relay request")
	}

	if s.audit != nil && isAuditedVerb(verb) {
		s.audit.LogOperation(
			auditEventForVerb(verb),
			fileID,
			rootID,
			r.RemoteAddr,
			r.UserAgent(),
			middleware.RequestID(r.Context()),
			err == nil,
			err,
			duration,
		)
	}
}

func isAuditedVerb(verb string) bool {
	switch verb {
	case "upload_new", "upload_push", "upload_finish", "delete":
		return true
	default:
		return false
	}
}

func auditEventForVerb(verb string) audit.EventType {
	switch verb {
	case "upload_new":
		return audit.EventUploadNew
	case "upload_push":
		return audit.EventUploadPush
	case "upload_finish":
		return audit.EventUploadFinish
	case "delete":
		return audit.EventDelete
	default:
		return audit.EventType(verb)
	}
}

// rawJSON lets writeJSON embed an already-marshaled byte slice verbatim.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}
