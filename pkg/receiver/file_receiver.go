package receiver

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/peerSplice/internal/app_events"
	"github.com/rescp17/peerSplice/internal/app_events/receiver"
	"github.com/rescp17/peerSplice/pkg/concurrency"
	"github.com/rescp17/peerSplice/pkg/fileInfo"
	"github.com/rescp17/peerSplice/pkg/transfer"
)

// maxEarlySegments caps how many segments are held per file while its meta
// info has not arrived yet.
const maxEarlySegments = 4096

// maxEarlyFiles caps how many unannounced file ids may hold segments.
const maxEarlyFiles = 16

const maxQueuedProgress = 32

var (
	ErrTooManyEarlySegments = errors.New("too many segments before file meta")
	ErrTooManyEarlyFiles    = errors.New("too many files awaiting file meta")
	ErrCancelledBySender    = errors.New("transfer cancelled by sender")
)

// Result is the outcome of one file.
type Result struct {
	Meta transfer.FileMetaInfo
	// Path is where the file was written; empty in memory mode
	Path string
	// Data holds the content in memory mode
	Data []byte
	Err  error
}

// FileReception tracks the state of receiving a single file
type FileReception struct {
	assembler *transfer.Assembler
	tracker   *transfer.ProgressTracker
}

// FileReceiver turns wire messages into files. Each file id gets its own
// Assembler. The channel is unordered, so segments that overtake their
// file_meta message are held until it arrives.
type FileReceiver struct {
	outputDir string
	mu        sync.Mutex
	files     map[string]*FileReception // fileID -> reception
	early     map[string][]transfer.Segment
	results   map[string]Result
	outbox    *concurrency.Mailbox[tea.Msg] // status updates for the UI, in order
	onResult  func(Result)
	logger    *slog.Logger
}

// NewFileReceiver creates a receiver writing into outputDir. An empty
// outputDir keeps completed files in memory.
func NewFileReceiver(outputDir string, uiMessages chan<- tea.Msg, logger *slog.Logger) *FileReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	fr := &FileReceiver{
		outputDir: outputDir,
		files:     make(map[string]*FileReception),
		early:     make(map[string][]transfer.Segment),
		results:   make(map[string]Result),
		logger:    logger,
	}
	if uiMessages != nil {
		fr.outbox = concurrency.NewMailbox[tea.Msg]()
		go fr.outbox.Drain(func(msg tea.Msg) { uiMessages <- msg })
	}
	return fr
}

// OnResult registers fn to be called, with the receiver locked, whenever a
// file finishes.
func (fr *FileReceiver) OnResult(fn func(Result)) {
	fr.mu.Lock()
	fr.onResult = fn
	fr.mu.Unlock()
}

// HandleFrame decodes one data channel message and applies it. When a file
// finishes, successfully or not, the returned reply is the file_complete
// acknowledgement for the sender.
func (fr *FileReceiver) HandleFrame(data []byte) (*transfer.ChunkMessage, error) {
	msg, err := transfer.DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return fr.HandleMessage(msg)
}

func (fr *FileReceiver) HandleMessage(msg *transfer.ChunkMessage) (*transfer.ChunkMessage, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	switch msg.Type {
	case transfer.FileMeta:
		return fr.startFileLocked(msg)
	case transfer.SegmentData:
		return fr.insertLocked(msg.FileID, msg.Segment())
	case transfer.TransferCancel:
		fr.cancelLocked(msg.FileID, msg.ErrorMessage)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", transfer.ErrUnknownMessageType, msg.Type)
	}
}

func (fr *FileReceiver) startFileLocked(msg *transfer.ChunkMessage) (*transfer.ChunkMessage, error) {
	if msg.Meta == nil {
		return nil, fmt.Errorf("%w: file_meta without meta", transfer.ErrInvalidMetaInfo)
	}
	if _, exists := fr.files[msg.FileID]; exists {
		return nil, fmt.Errorf("file %s already announced", msg.FileID)
	}
	if _, done := fr.results[msg.FileID]; done {
		return nil, fmt.Errorf("file %s already received", msg.FileID)
	}

	assembler := transfer.NewAssembler()
	if err := assembler.SetMetaInfo(*msg.Meta); err != nil {
		return nil, err
	}
	meta := assembler.MetaInfo()
	err := validChunkSize(msg.ChunkSize)
	if err == nil {
		err = assembler.StartSplice(msg.SegmentCount, msg.ChunkSize)
	}
	if err != nil {
		delete(fr.early, msg.FileID)
		fr.finishLocked(Result{Meta: meta, Err: err})
		return transfer.NewFileCompleteMessage(msg.FileID, err), nil
	}

	reception := &FileReception{
		assembler: assembler,
		tracker:   transfer.NewProgressTracker(meta, msg.SegmentCount),
	}
	reception.tracker.Start()
	fr.files[msg.FileID] = reception

	fr.logger.Info("Started receiving file", "fileName", meta.Name, "totalSize", meta.Size, "segments", msg.SegmentCount)
	fr.notify(receiver.FileAnnouncedMsg{Meta: meta, SegmentCount: msg.SegmentCount})

	// replay segments that arrived first
	early := fr.early[msg.FileID]
	delete(fr.early, msg.FileID)
	for _, seg := range early {
		if reply, err := fr.insertLocked(msg.FileID, seg); reply != nil || err != nil {
			if err != nil {
				fr.logger.Warn("rejected buffered segment", "index", seg.Index, "error", err)
			}
			if reply != nil {
				return reply, nil
			}
		}
	}
	return fr.checkDoneLocked(msg.FileID, reception)
}

// validChunkSize rejects announcements without a usable chunk size.
func validChunkSize(chunkSize int) error {
	if !transfer.DefaultTransferConfig().IsValidChunkSize(chunkSize) {
		return fmt.Errorf("%w: %d", transfer.ErrInvalidChunkSize, chunkSize)
	}
	return nil
}

func (fr *FileReceiver) insertLocked(fileID string, seg transfer.Segment) (*transfer.ChunkMessage, error) {
	reception, ok := fr.files[fileID]
	if !ok {
		if _, done := fr.results[fileID]; done {
			return nil, fmt.Errorf("%w: file %s already finished", transfer.ErrNotCompleting, fileID)
		}
		pending, known := fr.early[fileID]
		if !known && len(fr.early) >= maxEarlyFiles {
			return nil, ErrTooManyEarlyFiles
		}
		if len(pending) >= maxEarlySegments {
			return nil, ErrTooManyEarlySegments
		}
		fr.early[fileID] = append(fr.early[fileID], transfer.Segment{Index: seg.Index, Content: append([]byte(nil), seg.Content...)})
		return nil, nil
	}

	if err := reception.assembler.InsertSegment(seg); err != nil {
		if reception.assembler.State() != transfer.AssemblerFailed {
			return nil, err
		}
		// the last segment completed a buffer that failed verification
		return fr.checkDoneLocked(fileID, reception)
	}
	fr.notifyProgress(reception.tracker.Add(len(seg.Content)))
	return fr.checkDoneLocked(fileID, reception)
}

func (fr *FileReceiver) checkDoneLocked(fileID string, reception *FileReception) (*transfer.ChunkMessage, error) {
	a := reception.assembler
	switch a.State() {
	case transfer.AssemblerCompleted:
		delete(fr.files, fileID)
		res := Result{Meta: a.MetaInfo()}
		res.Path, res.Err = fr.persist(res.Meta, a.Bytes())
		if res.Err == nil && res.Path == "" {
			res.Data = a.Bytes()
		}
		fr.notifyProgress(reception.tracker.Finish(res.Err))
		fr.finishLocked(res)
		return transfer.NewFileCompleteMessage(fileID, res.Err), nil
	case transfer.AssemblerFailed:
		delete(fr.files, fileID)
		reception.tracker.Finish(a.Err())
		fr.finishLocked(Result{Meta: a.MetaInfo(), Err: a.Err()})
		return transfer.NewFileCompleteMessage(fileID, a.Err()), nil
	default:
		return nil, nil
	}
}

func (fr *FileReceiver) cancelLocked(fileID, reason string) {
	delete(fr.early, fileID)
	reception, ok := fr.files[fileID]
	if !ok {
		return
	}
	delete(fr.files, fileID)
	err := fmt.Errorf("%w: %s", ErrCancelledBySender, reason)
	reception.assembler.Abort(err)
	reception.tracker.Cancel()
	fr.finishLocked(Result{Meta: reception.assembler.MetaInfo(), Err: err})
}

func (fr *FileReceiver) finishLocked(res Result) {
	fr.results[res.Meta.ID] = res
	if fr.onResult != nil {
		fr.onResult(res)
	}

	if res.Err != nil {
		fr.logger.Error("File reception failed", "fileName", res.Meta.Name, "error", res.Err)
		fr.notify(receiver.FileFailedMsg{Meta: res.Meta, Err: res.Err})
		return
	}
	fr.logger.Info("File reception completed", "fileName", res.Meta.Name, "size", res.Meta.Size, "path", res.Path)
	fr.notify(receiver.FileReceivedMsg{Meta: res.Meta, Path: res.Path})
}

// persist writes data under outputDir and verifies the written file
// against the announced checksum. It is a no-op in memory mode.
func (fr *FileReceiver) persist(meta transfer.FileMetaInfo, data []byte) (string, error) {
	if fr.outputDir == "" {
		return "", nil
	}
	outputPath, err := fr.outputPath(meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	if meta.Checksum != "" {
		ok, err := fileInfo.VerifyFile(outputPath, meta.Checksum)
		if err != nil {
			return "", fmt.Errorf("failed to calculate file hash: %w", err)
		}
		if !ok {
			if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
				fr.logger.Error("Failed to cleanup corrupted file", "path", outputPath, "error", rmErr)
			}
			return "", fmt.Errorf("%w: written file does not match", transfer.ErrChecksumMismatch)
		}
	}
	return outputPath, nil
}

// outputPath picks a path for meta inside outputDir. The sender's name is
// reduced to its base name, and an existing file is never overwritten.
func (fr *FileReceiver) outputPath(meta transfer.FileMetaInfo) (string, error) {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(meta.Name, `\`, "/")))
	if name == "/" || name == "." || name == ".." {
		name = "Unnamed-" + meta.ID
	}
	dir := filepath.Clean(fr.outputDir)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if filepath.Dir(candidate) != dir {
			return "", fmt.Errorf("invalid output path: %s", candidate)
		}
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
}

// Result returns the outcome of a finished file.
func (fr *FileReceiver) Result(fileID string) (Result, bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	res, ok := fr.results[fileID]
	return res, ok
}

// Active returns the progress of files still being received.
func (fr *FileReceiver) Active() []transfer.TransferStatus {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	statuses := make([]transfer.TransferStatus, 0, len(fr.files))
	for _, r := range fr.files {
		statuses = append(statuses, r.tracker.Status())
	}
	return statuses
}

// AbortAll fails every file in progress, for when the connection drops.
func (fr *FileReceiver) AbortAll(reason error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for id, r := range fr.files {
		r.assembler.Abort(reason)
		r.tracker.Finish(reason)
		delete(fr.files, id)
		fr.finishLocked(Result{Meta: r.assembler.MetaInfo(), Err: reason})
	}
	clear(fr.early)
}

func (fr *FileReceiver) notify(msg tea.Msg) {
	if fr.outbox != nil {
		fr.outbox.Put(msg)
	}
}

// notifyProgress skips updates while the UI is behind.
func (fr *FileReceiver) notifyProgress(status transfer.TransferStatus) {
	if fr.outbox == nil || (fr.outbox.Len() > maxQueuedProgress && status.State == transfer.TransferStateActive) {
		return
	}
	fr.outbox.Put(appevents.ProgressMsg{Status: status})
}

// Close stops forwarding status updates to the UI.
func (fr *FileReceiver) Close() {
	if fr.outbox != nil {
		fr.outbox.Close()
	}
}
