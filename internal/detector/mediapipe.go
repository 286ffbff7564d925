package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ScriptName is the face mesh service started by MediaPipeModel.
const ScriptName = "face_mesh_service.py"

// Frame kinds understood by the face mesh service.
const (
	wireJPEG   byte = 1
	wireRGB    byte = 2
	headerSize      = 14
)

// ErrScriptNotFound is returned when the face mesh service cannot be located.
var ErrScriptNotFound = errors.New(ScriptName + " not found")

// killGrace is how long a cancelled request may wait for its response
// before the service is killed.
var killGrace = 2 * time.Second

// MediaPipeConfig holds configuration for the MediaPipe face mesh backend.
type MediaPipeConfig struct {
	// ScriptPath overrides the service script lookup.
	ScriptPath string `yaml:"script_path"`

	// PythonPath overrides the interpreter lookup.
	PythonPath string `yaml:"python_path"`

	// MaxFaces is forwarded to the service. Multi-face results are needed
	// to reject frames with more than one person.
	MaxFaces int `yaml:"max_faces"`

	// MinConfidence is the minimum detection confidence (0.0-1.0).
	MinConfidence float64 `yaml:"min_confidence"`
}

// DefaultMediaPipeConfig returns a MediaPipeConfig with sensible default values.
func DefaultMediaPipeConfig() MediaPipeConfig {
	return MediaPipeConfig{
		MaxFaces:      2,
		MinConfidence: 0.5,
	}
}

// MediaPipeModel implements Model using a Python MediaPipe face mesh
// subprocess. Frames are written to stdin as a fixed header followed by the
// payload; one JSON line is read back per frame.
//
// The service accepts JPEG and packed RGB input. Mat input is rejected with
// ErrUnsupportedInput so the session falls through to the next strategy.
type MediaPipeModel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	closed bool
	dead   bool
}

// NewMediaPipeLoader returns a Loader that starts the face mesh service.
func NewMediaPipeLoader(config MediaPipeConfig) Loader {
	return func(ctx context.Context) (Model, error) {
		return StartMediaPipe(ctx, config)
	}
}

// StartMediaPipe starts the face mesh service and returns the running model.
func StartMediaPipe(ctx context.Context, config MediaPipeConfig) (*MediaPipeModel, error) {
	scriptPath := config.ScriptPath
	if scriptPath == "" {
		scriptPath = FindScript()
	}
	if scriptPath == "" {
		return nil, ErrScriptNotFound
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, scriptPath)
	}

	// Use virtual environment Python if available
	pythonPath := config.PythonPath
	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}

	args := []string{scriptPath}
	if config.MaxFaces > 0 {
		args = append(args, fmt.Sprintf("--max-faces=%d", config.MaxFaces))
	}
	if config.MinConfidence > 0 {
		args = append(args, fmt.Sprintf("--min-confidence=%.2f", config.MinConfidence))
	}

	// The service outlives the load context, so it is not bound to ctx.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(pythonPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start face mesh service: %w", err)
	}

	m := &MediaPipeModel{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}

	// The service prints one ready line once the graph is built. The load
	// context bounds the wait only.
	proc := cmd.Process
	stop := context.AfterFunc(ctx, func() { proc.Kill() })
	line, err := m.stdout.ReadString('\n')
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("wait for face mesh service: %w", err)
	}
	var ready struct {
		Ready bool   `json:"ready"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &ready); err != nil || !ready.Ready {
		m.Close()
		if ready.Error != "" {
			return nil, fmt.Errorf("face mesh service: %s", ready.Error)
		}
		return nil, fmt.Errorf("face mesh service sent unexpected handshake %q", line)
	}

	return m, nil
}

// EstimateFaces sends one frame to the service and decodes the faces found.
func (m *MediaPipeModel) EstimateFaces(ctx context.Context, in Input) ([]Face, error) {
	var kind byte
	switch in.Kind {
	case InputEncoded:
		kind = wireJPEG
	case InputPixels:
		kind = wireRGB
	default:
		return nil, ErrUnsupportedInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("face mesh service closed")
	}
	if m.dead {
		return nil, errors.New("face mesh service killed after a stalled request")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A cancelled request gets killGrace to finish. After that the service
	// is killed so the pipes unblock.
	proc := m.cmd.Process
	done := make(chan struct{})
	defer close(done)
	var killed atomic.Bool
	stop := context.AfterFunc(ctx, func() {
		select {
		case <-done:
		case <-time.After(killGrace):
			killed.Store(true)
			proc.Kill()
		}
	})
	defer stop()

	header := make([]byte, headerSize)
	header[0] = kind
	if in.FlipHorizontal {
		header[1] = 1
	}
	binary.BigEndian.PutUint32(header[2:6], uint32(in.Width))
	binary.BigEndian.PutUint32(header[6:10], uint32(in.Height))
	binary.BigEndian.PutUint32(header[10:14], uint32(len(in.Data)))

	line, err := m.exchange(header, in.Data)
	if killed.Load() {
		m.dead = true
		return nil, fmt.Errorf("face mesh service stalled: %w", ctx.Err())
	}
	if err != nil {
		return nil, err
	}

	return parseResponse([]byte(line))
}

func (m *MediaPipeModel) exchange(header, data []byte) (string, error) {
	if _, err := m.stdin.Write(header); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	if _, err := m.stdin.Write(data); err != nil {
		return "", fmt.Errorf("write data: %w", err)
	}

	line, err := m.stdout.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return line, nil
}

// Close shuts down the Python process.
func (m *MediaPipeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.stdin != nil {
		m.stdin.Close()
	}
	err := m.cmd.Wait()
	m.cmd = nil
	m.stdin = nil
	m.stdout = nil

	return err
}

// FindScript looks for the face mesh service in the usual install locations.
func FindScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ScriptName),
		filepath.Join("..", "scripts", ScriptName),
		filepath.Join(execDir, "scripts", ScriptName),
		filepath.Join(os.Getenv("HOME"), ".faceenroll", "scripts", ScriptName),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".faceenroll/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// response is one JSON line from the service.
type response struct {
	Faces []jsonFace `json:"faces"`
	Error string     `json:"error"`
}

// jsonFace is a face as reported by the service. Keypoints are indexed by
// position and expressed in frame pixels. The box may come in any of the
// geometry formats the face models emit.
type jsonFace struct {
	Keypoints   [][]float64 `json:"keypoints"`
	Box         *jsonBox    `json:"box"`
	TopLeft     []float64   `json:"topLeft"`
	BottomRight []float64   `json:"bottomRight"`
	Score       float64     `json:"score"`
}

type jsonBox struct {
	XMin    *float64 `json:"xMin"`
	YMin    *float64 `json:"yMin"`
	XMax    *float64 `json:"xMax"`
	YMax    *float64 `json:"yMax"`
	XCenter *float64 `json:"xCenter"`
	YCenter *float64 `json:"yCenter"`
	Width   *float64 `json:"width"`
	Height  *float64 `json:"height"`
}

func parseResponse(line []byte) ([]Face, error) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("face mesh service: %s", resp.Error)
	}

	faces := make([]Face, len(resp.Faces))
	for i, f := range resp.Faces {
		faces[i] = f.toFace()
	}
	return faces, nil
}

func (f jsonFace) toFace() Face {
	face := Face{Score: f.Score, Geometry: f.geometry()}
	for i, p := range f.Keypoints {
		if len(p) < 2 {
			continue
		}
		face.Keypoints = append(face.Keypoints, Keypoint{Index: i, X: p[0], Y: p[1]})
	}
	return face
}

func (f jsonFace) geometry() Geometry {
	if b := f.Box; b != nil {
		switch {
		case all(b.XMin, b.YMin, b.XMax, b.YMax):
			return Corners{XMin: *b.XMin, YMin: *b.YMin, XMax: *b.XMax, YMax: *b.YMax}
		case all(b.XMin, b.YMin, b.Width, b.Height):
			return Corners{XMin: *b.XMin, YMin: *b.YMin, XMax: *b.XMin + *b.Width, YMax: *b.YMin + *b.Height}
		case all(b.XCenter, b.YCenter, b.Width, b.Height):
			return CenterBox{XCenter: *b.XCenter, YCenter: *b.YCenter, Width: *b.Width, Height: *b.Height}
		}
	}
	if len(f.TopLeft) >= 2 && len(f.BottomRight) >= 2 {
		return LegacyBox{
			TopLeft:     Point{X: f.TopLeft[0], Y: f.TopLeft[1]},
			BottomRight: Point{X: f.BottomRight[0], Y: f.BottomRight[1]},
		}
	}
	return nil
}

func all(vals ...*float64) bool {
	for _, v := range vals {
		if v == nil {
			return false
		}
	}
	return true
}
