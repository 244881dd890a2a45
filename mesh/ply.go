package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// plyHeader is the subset of a PLY header the reader understands.
type plyHeader struct {
	Format      string
	VertexCount int
	FaceCount   int
	VertexProps []plyProperty
	FaceProps   []plyProperty
}

type plyProperty struct {
	Name     string
	Type     string
	IsList   bool
	ListType string
	DataType string
}

// WritePLY writes m as binary little-endian PLY with float positions and
// int triangle indices.
func WritePLY(w io.Writer, m *Mesh) error {
	bw := bufio.NewWriter(w)
	header := fmt.Sprintf("ply\nformat binary_little_endian 1.0\ncomment go-hfs\n"+
		"element vertex %d\nproperty float x\nproperty float y\nproperty float z\n"+
		"element face %d\nproperty list uchar int vertex_indices\nend_header\n",
		len(m.Vertices), len(m.Faces))
	if _, err := bw.WriteString(header); err != nil {
		return fmt.Errorf("failed to write PLY header: %w", err)
	}

	buf := make([]byte, 13)
	for _, v := range m.Vertices {
		for a := 0; a < 3; a++ {
			binary.LittleEndian.PutUint32(buf[a*4:], math.Float32bits(v[a]))
		}
		if _, err := bw.Write(buf[:12]); err != nil {
			return fmt.Errorf("failed to write PLY vertex: %w", err)
		}
	}
	for _, f := range m.Faces {
		buf[0] = 3
		for a := 0; a < 3; a++ {
			binary.LittleEndian.PutUint32(buf[1+a*4:], f[a])
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("failed to write PLY face: %w", err)
		}
	}
	return bw.Flush()
}

// SavePLY writes m to path, creating the parent directory.
func SavePLY(path string, m *Mesh) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create mesh directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create PLY file: %w", err)
	}
	if err := WritePLY(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadPLY reads a triangle mesh from path.
func LoadPLY(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PLY file: %w", err)
	}
	defer f.Close()
	return ReadPLY(f)
}

// ReadPLY reads ascii or binary little-endian PLY. Only x, y, z vertex
// positions and triangular faces are kept; other properties are skipped.
func ReadPLY(r io.Reader) (*Mesh, error) {
	br := bufio.NewReader(r)
	header, err := parsePLYHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PLY header: %w", err)
	}
	switch header.Format {
	case "binary_little_endian":
		return readBinaryPLY(br, header)
	case "ascii":
		return readASCIIPLY(br, header)
	default:
		return nil, fmt.Errorf("unsupported PLY format: %s", header.Format)
	}
}

func parsePLYHeader(br *bufio.Reader) (*plyHeader, error) {
	header := &plyHeader{}
	var currentElement string
	first := true
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header: %w", err)
		}
		line = strings.TrimSpace(line)
		if first {
			if line != "ply" {
				return nil, fmt.Errorf("missing ply magic")
			}
			first = false
			continue
		}
		if line == "end_header" {
			return header, nil
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "format":
			if len(parts) >= 2 {
				header.Format = parts[1]
			}
		case "element":
			if len(parts) < 3 {
				return nil, fmt.Errorf("invalid element line: %q", line)
			}
			count, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, fmt.Errorf("invalid element count: %s", parts[2])
			}
			currentElement = parts[1]
			switch currentElement {
			case "vertex":
				header.VertexCount = count
			case "face":
				header.FaceCount = count
			}
		case "property":
			prop, err := parsePLYProperty(parts[1:])
			if err != nil {
				return nil, err
			}
			switch currentElement {
			case "vertex":
				header.VertexProps = append(header.VertexProps, prop)
			case "face":
				header.FaceProps = append(header.FaceProps, prop)
			}
		}
	}
}

func parsePLYProperty(parts []string) (plyProperty, error) {
	if len(parts) < 2 {
		return plyProperty{}, fmt.Errorf("invalid property definition")
	}
	if parts[0] == "list" {
		if len(parts) < 4 {
			return plyProperty{}, fmt.Errorf("invalid list property definition")
		}
		return plyProperty{IsList: true, ListType: parts[1], DataType: parts[2], Name: parts[3]}, nil
	}
	return plyProperty{Type: parts[0], Name: parts[1]}, nil
}

func plyTypeSize(t string) (int, error) {
	switch t {
	case "char", "uchar", "int8", "uint8":
		return 1, nil
	case "short", "ushort", "int16", "uint16":
		return 2, nil
	case "int", "uint", "int32", "uint32", "float", "float32":
		return 4, nil
	case "double", "float64":
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported PLY type: %s", t)
}

// decodeScalar decodes one little-endian value of type t.
func decodeScalar(b []byte, t string) float64 {
	switch t {
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case "ushort", "uint16":
		return float64(binary.LittleEndian.Uint16(b))
	case "int", "int32":
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case "uint", "uint32":
		return float64(binary.LittleEndian.Uint32(b))
	case "float", "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case "double", "float64":
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func positionIndex(props []plyProperty) ([3]int, error) {
	idx := [3]int{-1, -1, -1}
	for i, p := range props {
		switch p.Name {
		case "x":
			idx[0] = i
		case "y":
			idx[1] = i
		case "z":
			idx[2] = i
		}
	}
	if idx[0] < 0 || idx[1] < 0 || idx[2] < 0 {
		return idx, fmt.Errorf("PLY vertex element has no x, y, z properties")
	}
	return idx, nil
}

func readBinaryPLY(br *bufio.Reader, header *plyHeader) (*Mesh, error) {
	pos, err := positionIndex(header.VertexProps)
	if err != nil {
		return nil, err
	}
	m := &Mesh{
		Vertices: make([][3]float32, 0, header.VertexCount),
		Faces:    make([][3]uint32, 0, header.FaceCount),
	}

	values := make([]float64, len(header.VertexProps))
	buf := make([]byte, 8)
	for i := 0; i < header.VertexCount; i++ {
		for p, prop := range header.VertexProps {
			if prop.IsList {
				return nil, fmt.Errorf("list vertex properties are not supported")
			}
			size, err := plyTypeSize(prop.Type)
			if err != nil {
				return nil, err
			}
			if _, err := io.ReadFull(br, buf[:size]); err != nil {
				return nil, fmt.Errorf("failed to read vertex %d: %w", i, err)
			}
			values[p] = decodeScalar(buf[:size], prop.Type)
		}
		m.Vertices = append(m.Vertices, [3]float32{float32(values[pos[0]]), float32(values[pos[1]]), float32(values[pos[2]])})
	}

	for i := 0; i < header.FaceCount; i++ {
		for _, prop := range header.FaceProps {
			if !prop.IsList {
				size, err := plyTypeSize(prop.Type)
				if err != nil {
					return nil, err
				}
				if _, err := io.ReadFull(br, buf[:size]); err != nil {
					return nil, fmt.Errorf("failed to skip face property %s at face %d: %w", prop.Name, i, err)
				}
				continue
			}

			countSize, err := plyTypeSize(prop.ListType)
			if err != nil {
				return nil, err
			}
			if _, err := io.ReadFull(br, buf[:countSize]); err != nil {
				return nil, fmt.Errorf("failed to read face vertex count at face %d: %w", i, err)
			}
			count := int(decodeScalar(buf[:countSize], prop.ListType))
			dataSize, err := plyTypeSize(prop.DataType)
			if err != nil {
				return nil, err
			}

			var face [3]uint32
			for v := 0; v < count; v++ {
				if _, err := io.ReadFull(br, buf[:dataSize]); err != nil {
					return nil, fmt.Errorf("failed to read face indices at face %d: %w", i, err)
				}
				if v < 3 {
					face[v] = uint32(decodeScalar(buf[:dataSize], prop.DataType))
				}
			}
			if prop.Name == "vertex_indices" || prop.Name == "vertex_index" {
				if count != 3 {
					return nil, fmt.Errorf("only triangular faces supported, got %d vertices at face %d", count, i)
				}
				m.Faces = append(m.Faces, face)
			}
		}
	}
	return m, nil
}

func readASCIIPLY(br *bufio.Reader, header *plyHeader) (*Mesh, error) {
	pos, err := positionIndex(header.VertexProps)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(br)
	next := func() ([]string, error) {
		for scanner.Scan() {
			if fields := strings.Fields(scanner.Text()); len(fields) > 0 {
				return fields, nil
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.ErrUnexpectedEOF
	}

	m := &Mesh{}
	for i := 0; i < header.VertexCount; i++ {
		fields, err := next()
		if err != nil {
			return nil, fmt.Errorf("failed to read vertex %d: %w", i, err)
		}
		if len(fields) < len(header.VertexProps) {
			return nil, fmt.Errorf("vertex %d has %d values, expected %d", i, len(fields), len(header.VertexProps))
		}
		var v [3]float32
		for a := 0; a < 3; a++ {
			f, err := strconv.ParseFloat(fields[pos[a]], 32)
			if err != nil {
				return nil, fmt.Errorf("invalid coordinate at vertex %d: %w", i, err)
			}
			v[a] = float32(f)
		}
		m.Vertices = append(m.Vertices, v)
	}
	for i := 0; i < header.FaceCount; i++ {
		fields, err := next()
		if err != nil {
			return nil, fmt.Errorf("failed to read face %d: %w", i, err)
		}
		if len(fields) != 4 || fields[0] != "3" {
			return nil, fmt.Errorf("only triangular faces supported at face %d", i)
		}
		var face [3]uint32
		for a := 0; a < 3; a++ {
			n, err := strconv.ParseUint(fields[a+1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid index at face %d: %w", i, err)
			}
			face[a] = uint32(n)
		}
		m.Faces = append(m.Faces, face)
	}
	return m, nil
}
