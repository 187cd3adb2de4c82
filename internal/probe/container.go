package probe

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"io"
	"os"

	// Image format decoders for DecodeConfig
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"sticker-convert/internal/logging"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// pngChunkSizes holds the fixed data length of the chunks probePNG reads.
var pngChunkSizes = map[string]int64{
	"IHDR": 13,
	"acTL": 8,
	"fcTL": 26,
}

// maxLottieBytes bounds the decompressed size of a TGS file.
const maxLottieBytes = 16 << 20

// probePNG walks the PNG chunk list. A file is an APNG when an acTL chunk
// appears before the first IDAT; frame timing comes from the fcTL chunks.
func probePNG(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeFile(f, path)

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(f, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, fmt.Errorf("bad PNG signature: %w", errMalformed)
	}

	info := &Info{Codec: "png"}
	var (
		seenIDAT   bool
		actl       bool
		fctlFrames int
		durationMS float64
		header     [8]byte
	)

chunks:
	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if errors.Is(err, io.EOF) && info.Width > 0 {
				break
			}
			return nil, fmt.Errorf("truncated PNG chunk header: %w", errMalformed)
		}
		length := int64(binary.BigEndian.Uint32(header[:4]))
		chunk := string(header[4:8])

		pos, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		if chunk != "IEND" && length+4 > st.Size()-pos {
			return nil, fmt.Errorf("truncated %s chunk: %w", chunk, errMalformed)
		}

		switch chunk {
		case "IHDR", "acTL", "fcTL":
			if length != pngChunkSizes[chunk] {
				return nil, fmt.Errorf("%s chunk length %d, want %d: %w", chunk, length, pngChunkSizes[chunk], errMalformed)
			}
			data := make([]byte, length)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, fmt.Errorf("truncated %s chunk: %w", chunk, errMalformed)
			}
			switch chunk {
			case "IHDR":
				info.Width = int(binary.BigEndian.Uint32(data[0:4]))
				info.Height = int(binary.BigEndian.Uint32(data[4:8]))
				colorType := data[9]
				info.Alpha = colorType == 4 || colorType == 6
			case "acTL":
				if !seenIDAT {
					actl = true
					info.Frames = int(binary.BigEndian.Uint32(data[0:4]))
				}
			case "fcTL":
				fctlFrames++
				num := float64(binary.BigEndian.Uint16(data[20:22]))
				den := float64(binary.BigEndian.Uint16(data[22:24]))
				if den == 0 {
					den = 100
				}
				durationMS += num * 1000 / den
			}
			// CRC
			if _, err := f.Seek(4, io.SeekCurrent); err != nil {
				return nil, err
			}
		case "IEND":
			break chunks
		default:
			if chunk == "IDAT" {
				seenIDAT = true
			}
			if chunk == "tRNS" {
				info.Alpha = true
			}
			if _, err := f.Seek(length+4, io.SeekCurrent); err != nil {
				return nil, err
			}
		}
	}

	if info.Width == 0 || info.Height == 0 {
		return nil, fmt.Errorf("missing IHDR: %w", errMalformed)
	}
	if actl {
		info.Codec = "apng"
		if fctlFrames > 0 {
			info.Frames = fctlFrames
		}
		info.Animated = info.Frames > 1
		info.DurationMS = int64(durationMS + 0.5)
	} else {
		info.Frames = 1
	}
	return info, nil
}

// probeWebP reads the RIFF container. Animated files carry a VP8X chunk
// with the animation flag and one ANMF chunk per frame.
func probeWebP(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, fmt.Errorf("bad WebP header: %w", errMalformed)
	}

	info := &Info{Codec: "webp"}
	var animFlag bool
	frames := 0
	var durationMS int64

	for off := 12; off+8 <= len(data); {
		fourcc := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, fmt.Errorf("truncated %s chunk: %w", fourcc, errMalformed)
		}
		chunk := data[body : body+size]

		switch fourcc {
		case "VP8X":
			if size < 10 {
				return nil, fmt.Errorf("short VP8X: %w", errMalformed)
			}
			animFlag = chunk[0]&0x02 != 0
			info.Alpha = chunk[0]&0x10 != 0
			info.Width = 1 + int(le24(chunk[4:7]))
			info.Height = 1 + int(le24(chunk[7:10]))
		case "ANMF":
			if size < 16 {
				return nil, fmt.Errorf("short ANMF: %w", errMalformed)
			}
			frames++
			durationMS += int64(le24(chunk[12:15]))
		}

		off = body + size + size%2
	}

	if animFlag {
		if info.Width == 0 {
			return nil, fmt.Errorf("animated WebP without canvas size: %w", errMalformed)
		}
		info.Frames = frames
		info.DurationMS = durationMS
		info.Animated = frames > 1
		return info, nil
	}

	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("webp: %v: %w", err, errMalformed)
	}
	info.Width, info.Height = cfg.Width, cfg.Height
	info.Frames = 1
	return info, nil
}

// probeGIF decodes every frame to get an exact frame count and delay sum.
func probeGIF(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeFile(f, path)

	g, err := gif.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("gif: %v: %w", err, errMalformed)
	}

	info := &Info{
		Codec:  "gif",
		Width:  g.Config.Width,
		Height: g.Config.Height,
		Frames: len(g.Image),
	}
	if info.Width == 0 && len(g.Image) > 0 {
		b := g.Image[0].Bounds()
		info.Width, info.Height = b.Dx(), b.Dy()
	}

	var durationMS int64
	for _, delay := range g.Delay {
		// Browsers play delays of 0 or 1 centiseconds at 10 fps.
		if delay <= 1 {
			delay = 10
		}
		durationMS += int64(delay) * 10
	}
	info.DurationMS = durationMS
	info.Animated = info.Frames > 1

	if len(g.Image) > 0 {
		for _, c := range g.Image[0].Palette {
			if _, _, _, a := c.RGBA(); a == 0 {
				info.Alpha = true
				break
			}
		}
	}
	return info, nil
}

type lottieHeader struct {
	FrameRate float64 `json:"fr"`
	InPoint   float64 `json:"ip"`
	OutPoint  float64 `json:"op"`
	Width     int     `json:"w"`
	Height    int     `json:"h"`
}

// probeTGS reads the header fields of a gzip-compressed Lottie animation.
func probeTGS(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeFile(f, path)

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("tgs is not gzip: %v: %w", err, errMalformed)
	}
	defer zr.Close()

	var hdr lottieHeader
	if err := json.NewDecoder(io.LimitReader(zr, maxLottieBytes)).Decode(&hdr); err != nil {
		return nil, fmt.Errorf("tgs json: %v: %w", err, errMalformed)
	}
	if hdr.FrameRate <= 0 || hdr.OutPoint <= hdr.InPoint {
		return nil, fmt.Errorf("tgs without timing: %w", errMalformed)
	}

	frames := int(hdr.OutPoint - hdr.InPoint)
	return &Info{
		Codec:      "lottie",
		Width:      hdr.Width,
		Height:     hdr.Height,
		FPS:        hdr.FrameRate,
		Frames:     frames,
		DurationMS: int64(float64(frames) / hdr.FrameRate * 1000),
		Animated:   true,
		Alpha:      true,
	}, nil
}

// probeStatic returns image dimensions without fully decoding the image.
func probeStatic(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeFile(f, path)

	config, name, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errMalformed)
	}
	return &Info{
		Codec:  name,
		Width:  config.Width,
		Height: config.Height,
		Frames: 1,
	}, nil
}

func le24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func closeFile(f *os.File, path string) {
	if err := f.Close(); err != nil {
		logging.Warn("failed to close %s: %v", path, err)
	}
}
