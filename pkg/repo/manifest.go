package repo

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/praxis-pm/praxis/pkg/deb"
)

// FileInfo is one entry of a release manifest: the expected size and
// content hash of an index file, keyed by its path relative to the
// distribution root.
type FileInfo struct {
	Size   int64
	SHA256 string
}

// Manifest is the parsed, already-verified release document for one
// repository snapshot.
type Manifest struct {
	Suite string
	Date  string
	Files map[string]FileInfo
}

// ParseManifest reads the verified payload of a Release/InRelease
// document. The SHA256 field lists one "hash size path" triple per
// line. The file argument is used for error reporting only.
func ParseManifest(payload []byte, file string) (*Manifest, error) {
	stanzas, err := deb.ParseControl(bytes.NewReader(payload), file)
	if err != nil {
		return nil, err
	}
	if len(stanzas) == 0 {
		return nil, &deb.ParseError{File: file, Line: 1, Msg: "empty release manifest"}
	}
	s := stanzas[0]

	m := &Manifest{
		Suite: s.Get("Suite"),
		Date:  s.Get("Date"),
		Files: make(map[string]FileInfo),
	}

	raw := s.Get("SHA256")
	if raw == "" {
		return nil, &deb.ParseError{File: file, Line: s.Line, Msg: "release manifest has no SHA256 section"}
	}
	fieldLine := s.Line
	for j, l := range strings.Split(string(payload), "\n")[s.Line-1:] {
		if strings.HasPrefix(l, "SHA256:") {
			fieldLine = s.Line + j
			break
		}
	}
	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, &deb.ParseError{File: file, Line: fieldLine + i, Msg: "malformed SHA256 entry: " + line}
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, &deb.ParseError{File: file, Line: fieldLine + i, Msg: "bad size in SHA256 entry: " + line}
		}
		m.Files[fields[2]] = FileInfo{Size: size, SHA256: strings.ToLower(fields[0])}
	}
	return m, nil
}

// Lookup returns the manifest entry for a relative path.
func (m *Manifest) Lookup(relPath string) (FileInfo, bool) {
	info, ok := m.Files[relPath]
	return info, ok
}

var errNoIndex = errors.New("no index listed for component/architecture")

// indexChoice describes how one Packages index should be acquired:
// the path to download (the plain index itself when no compressed form
// is listed) and the hashes of both forms.
type indexChoice struct {
	relPath      string
	compression  string
	info         FileInfo
	decompressed FileInfo
}

// chooseIndex selects the best published form of the Packages index
// for a component and architecture: xz preferred, then gz, then the
// uncompressed file.
func (m *Manifest) chooseIndex(component, arch string) (indexChoice, error) {
	plainPath := component + "/binary-" + arch + "/Packages"
	plain, havePlain := m.Lookup(plainPath)

	for _, ext := range []string{".xz", ".gz"} {
		if info, ok := m.Lookup(plainPath + ext); ok {
			if !havePlain {
				return indexChoice{}, errors.Errorf("%s exists but %s is not listed; repository issue?", plainPath+ext, plainPath)
			}
			return indexChoice{
				relPath:      plainPath + ext,
				compression:  ext,
				info:         info,
				decompressed: plain,
			}, nil
		}
	}
	if havePlain {
		return indexChoice{relPath: plainPath, info: plain, decompressed: plain}, nil
	}
	return indexChoice{}, errNoIndex
}
