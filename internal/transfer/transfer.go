// Package transfer implements the file socket: reading and saving text
// files, downloading files or directory trees as zip archives streamed in
// fixed-size chunks, and chunked uploads committed atomically.
package transfer

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"

	"github.com/boardwatch/boardwatch/internal/auth"
	"github.com/boardwatch/boardwatch/internal/common/logger"
	"github.com/boardwatch/boardwatch/pkg/protocol"
)

// Conn is the subset of the WebSocket connection the handler uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Handler serves one file socket connection per Run call.
type Handler struct {
	guard *auth.Guard
	log   *logger.Logger
}

// NewHandler creates a file transfer handler.
func NewHandler(guard *auth.Guard, log *logger.Logger) *Handler {
	return &Handler{guard: guard, log: log.WithComponent("transfer")}
}

// upload accumulates binary chunks between an "up" request and its
// commit. State never outlives the connection: a disconnect mid-upload
// discards everything buffered.
type upload struct {
	path     string
	declared int
	received int
	buf      bytes.Buffer
}

func (u *upload) reset(path string, declared int) {
	u.path = path
	u.declared = declared
	u.received = 0
	u.buf.Reset()
}

// commit writes the accumulated content to a temporary file next to the
// destination and renames it into place.
func (u *upload) commit() error {
	dir := filepath.Dir(u.path)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(u.buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), u.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Run consumes frames until the connection closes. Text frames carry
// requests, binary frames carry upload chunks.
func (h *Handler) Run(conn Conn) {
	log := h.log.WithFields(zap.String("session_id", uuid.New().String()))
	var up upload

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("file socket closed", zap.Error(err))
			return
		}

		if messageType == websocket.BinaryMessage {
			h.acceptChunk(conn, &up, data, log)
			continue
		}

		req, err := protocol.ParseFileRequest(data)
		if err != nil {
			log.Warn("malformed file request", zap.Error(err))
			continue
		}
		if h.guard.Enabled() && !h.guard.Verify(req.Token) {
			log.Warn("file request token rejected", zap.String("cmd", req.Cmd))
			continue
		}
		if err := h.handle(conn, &up, req, log); err != nil {
			log.Warn("file request failed",
				zap.String("cmd", req.Cmd), zap.String("path", req.Path), zap.Error(err))
		}
	}
}

func (h *Handler) acceptChunk(conn Conn, up *upload, data []byte, log *logger.Logger) {
	if up.declared == 0 {
		log.Warn("dropping upload chunk without announced upload")
		return
	}
	up.buf.Write(data)
	up.received++
	log.Debug("upload chunk received",
		zap.Int("received", up.received), zap.Int("declared", up.declared))
	if up.received != up.declared {
		return
	}
	if err := up.commit(); err != nil {
		log.Warn("upload commit failed", zap.String("path", up.path), zap.Error(err))
		return
	}
	notice, _ := json.Marshal(protocol.UploadFinished{Finished: true})
	if err := conn.WriteMessage(websocket.TextMessage, notice); err != nil {
		log.Debug("upload notice send failed", zap.Error(err))
	}
}

func (h *Handler) handle(conn Conn, up *upload, req protocol.FileRequest, log *logger.Logger) error {
	switch req.Cmd {
	case "open":
		content, err := os.ReadFile(req.Path)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		if !utf8.Valid(content) {
			return fmt.Errorf("file %s is not valid UTF-8", req.Path)
		}
		return conn.WriteMessage(websocket.TextMessage, content)

	case "dl":
		return h.download(conn, req.Path, log)

	case "up":
		declared, err := strconv.Atoi(req.Arg)
		if err != nil || declared <= 0 {
			return fmt.Errorf("invalid chunk count %q", req.Arg)
		}
		up.reset(req.Path, declared)
		return nil

	case "save":
		if err := os.WriteFile(req.Path, []byte(req.Arg), 0o644); err != nil {
			return fmt.Errorf("save file: %w", err)
		}
		return nil

	default:
		log.Debug("ignoring unknown file command", zap.String("cmd", req.Cmd))
		return nil
	}
}

// download zips the path (file or directory tree) in memory and streams
// it: one size frame announcing the chunk count, then the chunks.
func (h *Handler) download(conn Conn, path string, log *logger.Logger) error {
	archive, err := buildZip(path, log)
	if err != nil {
		return err
	}

	chunks := (len(archive) + protocol.ChunkSize - 1) / protocol.ChunkSize
	notice, err := json.Marshal(protocol.FileSize{Size: chunks})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, notice); err != nil {
		return err
	}
	for i := 0; i < chunks; i++ {
		end := (i + 1) * protocol.ChunkSize
		if end > len(archive) {
			end = len(archive)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, archive[i*protocol.ChunkSize:end]); err != nil {
			return err
		}
		log.Debug("sent archive chunk", zap.Int("chunk", i+1), zap.Int("total", chunks))
	}
	return nil
}

// buildZip archives the canonicalized path recursively. Entry names are
// relative to the parent of the root, so unzipping recreates the root
// directory itself. Unreadable files are logged and skipped; the archive
// still completes.
func buildZip(path string, log *logger.Logger) ([]byte, error) {
	root, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("invalid source path %s: %w", path, err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid source path %s: %w", path, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	base := filepath.Base(root)
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))
		if d.IsDir() {
			if _, err := zw.Create(name + "/"); err != nil {
				return fmt.Errorf("add directory %s: %w", name, err)
			}
			return nil
		}
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("add file %s: %w", name, err)
		}
		f, err := os.Open(p)
		if err != nil {
			log.Warn("skipping unreadable file", zap.String("path", p), zap.Error(err))
			return nil
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			log.Warn("skipping unreadable file", zap.String("path", p), zap.Error(err))
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	return buf.Bytes(), nil
}
