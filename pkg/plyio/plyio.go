// Package plyio reads point-cloud PLY files (ASCII or little-endian
// binary), the subset of the format needed to round-trip this module's own
// fixtures and CLI demo (§6: "genuinely external... only the subset of
// each format needed... is implemented, as ambient I/O — analogous to the
// teacher repo's OpenCVCamera, which doesn't reimplement V4L2, just drives
// it"). Required vertex properties: x,y,z. Optional: red,green,blue
// (0-255) or nx,ny,nz.
package plyio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/facefit/facefit/pkg/facefit"
)

type plyFormat int

const (
	formatASCII plyFormat = iota
	formatBinaryLittleEndian
)

type plyProperty struct {
	name     string
	typeSize int // bytes; 0 for ASCII (unused)
	isFloat  bool
}

// ReadFile opens path and parses it as a PLY point cloud.
func ReadFile(path string) (facefit.PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return facefit.PointCloud{}, fmt.Errorf("%w: opening PLY file: %v", facefit.ErrInputInvalid, err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses r as a PLY point cloud.
func Read(r io.Reader) (facefit.PointCloud, error) {
	br := bufio.NewReader(r)

	magic, err := readLine(br)
	if err != nil {
		return facefit.PointCloud{}, fmt.Errorf("%w: reading PLY magic: %v", facefit.ErrInputInvalid, err)
	}
	if strings.TrimSpace(magic) != "ply" {
		return facefit.PointCloud{}, fmt.Errorf("%w: not a PLY file", facefit.ErrInputInvalid)
	}

	var format plyFormat
	var vertexCount int
	var props []plyProperty
	inVertexElement := false

	for {
		line, err := readLine(br)
		if err != nil {
			return facefit.PointCloud{}, fmt.Errorf("%w: reading PLY header: %v", facefit.ErrInputInvalid, err)
		}
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "comment":
			continue
		case "format":
			switch fields[1] {
			case "ascii":
				format = formatASCII
			case "binary_little_endian":
				format = formatBinaryLittleEndian
			default:
				return facefit.PointCloud{}, fmt.Errorf("%w: unsupported PLY format %q", facefit.ErrInputInvalid, fields[1])
			}
		case "element":
			if fields[1] == "vertex" {
				inVertexElement = true
				vertexCount, err = strconv.Atoi(fields[2])
				if err != nil {
					return facefit.PointCloud{}, fmt.Errorf("%w: parsing vertex count: %v", facefit.ErrInputInvalid, err)
				}
			} else {
				inVertexElement = false
			}
		case "property":
			if !inVertexElement {
				continue
			}
			typeName := fields[1]
			name := fields[2]
			size, isFloat := propertySize(typeName)
			props = append(props, plyProperty{name: name, typeSize: size, isFloat: isFloat})
		case "end_header":
			goto parsedHeader
		}
	}

parsedHeader:
	if vertexCount == 0 {
		return facefit.PointCloud{}, facefit.ErrEmptyInput
	}

	idx := propertyIndex(props)
	if idx.x < 0 || idx.y < 0 || idx.z < 0 {
		return facefit.PointCloud{}, fmt.Errorf("%w: PLY missing required x,y,z vertex properties", facefit.ErrInputInvalid)
	}

	cloud := facefit.PointCloud{Points: make([]facefit.Point3D, vertexCount)}
	hasColor := idx.r >= 0 && idx.g >= 0 && idx.b >= 0
	hasNormal := idx.nx >= 0 && idx.ny >= 0 && idx.nz >= 0
	if hasColor {
		cloud.Colors = make([]facefit.Color, vertexCount)
	}
	if hasNormal {
		cloud.Normals = make([]facefit.Point3D, vertexCount)
	}

	switch format {
	case formatASCII:
		if err := readASCIIVertices(br, vertexCount, props, idx, &cloud, hasColor, hasNormal); err != nil {
			return facefit.PointCloud{}, err
		}
	case formatBinaryLittleEndian:
		if err := readBinaryVertices(br, vertexCount, props, idx, &cloud, hasColor, hasNormal); err != nil {
			return facefit.PointCloud{}, err
		}
	}

	return cloud, nil
}

type propIndex struct {
	x, y, z    int
	r, g, b    int
	nx, ny, nz int
}

func propertyIndex(props []plyProperty) propIndex {
	idx := propIndex{-1, -1, -1, -1, -1, -1, -1, -1, -1}
	for i, p := range props {
		switch p.name {
		case "x":
			idx.x = i
		case "y":
			idx.y = i
		case "z":
			idx.z = i
		case "red":
			idx.r = i
		case "green":
			idx.g = i
		case "blue":
			idx.b = i
		case "nx":
			idx.nx = i
		case "ny":
			idx.ny = i
		case "nz":
			idx.nz = i
		}
	}
	return idx
}

func propertySize(typeName string) (size int, isFloat bool) {
	switch typeName {
	case "float", "float32":
		return 4, true
	case "double", "float64":
		return 8, true
	case "uchar", "uint8", "char", "int8":
		return 1, false
	case "short", "int16", "ushort", "uint16":
		return 2, false
	case "int", "int32", "uint", "uint32":
		return 4, false
	default:
		return 4, true
	}
}

func readASCIIVertices(br *bufio.Reader, count int, props []plyProperty, idx propIndex, cloud *facefit.PointCloud, hasColor, hasNormal bool) error {
	for i := 0; i < count; i++ {
		line, err := readLine(br)
		if err != nil {
			return fmt.Errorf("%w: reading vertex %d: %v", facefit.ErrInputInvalid, i, err)
		}
		fields := strings.Fields(line)
		if len(fields) < len(props) {
			return fmt.Errorf("%w: vertex %d has too few fields", facefit.ErrInputInvalid, i)
		}
		values := make([]float64, len(props))
		for j := range props {
			v, err := strconv.ParseFloat(fields[j], 64)
			if err != nil {
				return fmt.Errorf("%w: parsing vertex %d field %d: %v", facefit.ErrInputInvalid, i, j, err)
			}
			values[j] = v
		}
		cloud.Points[i] = facefit.Point3D{X: values[idx.x], Y: values[idx.y], Z: values[idx.z]}
		if hasColor {
			cloud.Colors[i] = normalizeColor(values[idx.r], values[idx.g], values[idx.b])
		}
		if hasNormal {
			cloud.Normals[i] = facefit.Point3D{X: values[idx.nx], Y: values[idx.ny], Z: values[idx.nz]}
		}
	}
	return nil
}

func readBinaryVertices(br *bufio.Reader, count int, props []plyProperty, idx propIndex, cloud *facefit.PointCloud, hasColor, hasNormal bool) error {
	for i := 0; i < count; i++ {
		values := make([]float64, len(props))
		for j, p := range props {
			v, err := readBinaryValue(br, p)
			if err != nil {
				return fmt.Errorf("%w: reading vertex %d property %d: %v", facefit.ErrInputInvalid, i, j, err)
			}
			values[j] = v
		}
		cloud.Points[i] = facefit.Point3D{X: values[idx.x], Y: values[idx.y], Z: values[idx.z]}
		if hasColor {
			cloud.Colors[i] = normalizeColor(values[idx.r], values[idx.g], values[idx.b])
		}
		if hasNormal {
			cloud.Normals[i] = facefit.Point3D{X: values[idx.nx], Y: values[idx.ny], Z: values[idx.nz]}
		}
	}
	return nil
}

func readBinaryValue(r io.Reader, p plyProperty) (float64, error) {
	buf := make([]byte, p.typeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	switch p.typeSize {
	case 1:
		return float64(buf[0]), nil
	case 2:
		return float64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		if p.isFloat {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
		}
		return float64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
	default:
		return 0, fmt.Errorf("unsupported property width %d", p.typeSize)
	}
}

func normalizeColor(r, g, b float64) facefit.Color {
	if r > 1 || g > 1 || b > 1 {
		return facefit.Color{R: r / 255, G: g / 255, B: b / 255}
	}
	return facefit.Color{R: r, G: g, B: b}
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}
