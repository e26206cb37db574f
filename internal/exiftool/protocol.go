package exiftool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/oncutf/oncutf/pkg/file"
)

// readySentinel terminates every response of a stay-open exiftool process.
const readySentinel = "{ready}"

// stayOpenArgs launches exiftool in persistent mode, reading argument
// blocks from stdin until told to shut down.
func stayOpenArgs() []string {
	return []string{
		"-stay_open", "True",
		"-@", "-",
	}
}

// requestLines builds one stay-open request block for a set of paths.
// Numeric output (-n) keeps values machine-comparable across locales.
func requestLines(paths []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("-j\n")
	buf.WriteString("-n\n")
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	buf.WriteString("-execute\n")
	return buf.Bytes()
}

// oneShotArgs builds the argument list for an extended one-shot invocation.
// Extended extraction needs flags the stay-open stream mode does not carry.
func oneShotArgs(paths []string) []string {
	args := []string{
		"-j", "-n",
		"-ee",
		"-api", "RequestAll=3",
	}
	args = append(args, paths...)
	return args
}

// readUntilReady consumes response lines up to the {ready} sentinel and
// returns the JSON payload that precedes it.
func readUntilReady(r *bufio.Reader) ([]byte, error) {
	var payload bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		trimmed := trimEOL(line)
		if trimmed == readySentinel {
			return payload.Bytes(), nil
		}
		if line != "" {
			payload.WriteString(line)
		}
		if err != nil {
			return nil, fmt.Errorf("response stream ended before %s: %w", readySentinel, err)
		}
	}
}

func trimEOL(line string) string {
	for len(line) > 0 {
		last := line[len(line)-1]
		if last != '\n' && last != '\r' {
			break
		}
		line = line[:len(line)-1]
	}
	return line
}

// parsePayload decodes an exiftool -j JSON array into per-path field maps,
// keyed by normalized source path. Files exiftool could not read are simply
// absent from the result.
func parsePayload(payload []byte) (map[string]Fields, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return map[string]Fields{}, nil
	}

	var objects []map[string]any
	if err := json.Unmarshal(payload, &objects); err != nil {
		return nil, fmt.Errorf("malformed exiftool output: %w", err)
	}

	ret := make(map[string]Fields, len(objects))
	for _, obj := range objects {
		source, _ := obj["SourceFile"].(string)
		if source == "" {
			continue
		}
		ret[file.NormalizePath(source)] = Fields(obj)
	}
	return ret, nil
}
