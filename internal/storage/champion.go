package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"neurowalk/internal/nn"
)

var ErrCorruptPersistedState = errors.New("corrupt persisted network state")

// EncodeParams writes every bias then every weight of net, one float32
// decimal per line. The shortest representation that parses back to the same
// float32 is used, so a decode reproduces the values bit for bit.
func EncodeParams(w io.Writer, net *nn.Network) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	for _, value := range net.Parameters() {
		buf = strconv.AppendFloat(buf[:0], float64(value), 'g', -1, 32)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeParams reads a value sequence written by EncodeParams into net.
//
// An empty source leaves net untouched and reports loaded=false. Blank lines
// are ignored. Fewer values than the topology needs, or an unparsable or
// non-finite line, yields ErrCorruptPersistedState; surplus values yield
// nn.ErrTopologyMismatch. On any error net is left untouched.
func DecodeParams(r io.Reader, net *nn.Network) (loaded bool, err error) {
	want := net.ParamCount()
	values := make([]float32, 0, want)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if len(values) == want {
			return false, fmt.Errorf("%w: more than %d values", nn.ErrTopologyMismatch, want)
		}
		value, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return false, fmt.Errorf("%w: line %d: %v", ErrCorruptPersistedState, line, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return false, fmt.Errorf("%w: line %d: non-finite value %q", ErrCorruptPersistedState, line, text)
		}
		values = append(values, float32(value))
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}

	if len(values) == 0 {
		return false, nil
	}
	if len(values) < want {
		return false, fmt.Errorf("%w: got %d values, want %d", ErrCorruptPersistedState, len(values), want)
	}
	if err := net.SetParameters(values); err != nil {
		return false, err
	}
	return true, nil
}

// ChampionFile is the single-slot champion store: a plain text file holding
// the parameters of the latest champion.
type ChampionFile struct {
	Path string
}

func NewChampionFile(path string) *ChampionFile {
	return &ChampionFile{Path: path}
}

// Save replaces the whole file with the parameters of net.
func (f *ChampionFile) Save(net *nn.Network) error {
	if f.Path == "" {
		return errors.New("champion path is required")
	}
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create champion dir: %w", err)
		}
	}

	file, err := os.Create(f.Path)
	if err != nil {
		return fmt.Errorf("create champion file: %w", err)
	}
	if err := EncodeParams(file, net); err != nil {
		_ = file.Close()
		return fmt.Errorf("write champion file: %w", err)
	}
	return file.Close()
}

// Load overwrites net with the stored champion. A missing file counts as an
// empty slot.
func (f *ChampionFile) Load(net *nn.Network) (bool, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open champion file: %w", err)
	}
	defer file.Close()

	loaded, err := DecodeParams(file, net)
	if err != nil {
		return false, fmt.Errorf("load champion %s: %w", f.Path, err)
	}
	return loaded, nil
}
