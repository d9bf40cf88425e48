package ffmpeg

import (
	"context"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// VideoInfo is the slice of ffprobe output the pipeline consumes.
type VideoInfo struct {
	Path       string
	Duration   float64 // seconds
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
	Container  string // raw format_name list, e.g. "mov,mp4,m4a,3gp,3g2,mj2"
	Bitrate    int64  // container-level, bits per second
	Size       int64  // bytes
}

// Probe inspects path with ffprobe and returns the stream and
// container facts the report stage needs.
func (r *Runner) Probe(ctx context.Context, path string) (VideoInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	out, err := r.run(ctx, r.probeBinary, args)
	if err != nil {
		return VideoInfo{}, err
	}
	return decodeProbe(out, path)
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// decodeProbe parses ffprobe JSON. The first video and first audio
// stream win; numeric fields ffprobe reports as strings tolerate
// absence.
func decodeProbe(data []byte, path string) (VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe: decode %s: %w", path, err)
	}

	info := VideoInfo{
		Path:      path,
		Container: out.Format.FormatName,
	}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	info.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	info.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, st := range out.Streams {
		switch st.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = st.CodecName
				info.Width = st.Width
				info.Height = st.Height
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = st.CodecName
			}
		}
	}

	if info.VideoCodec == "" {
		return VideoInfo{}, fmt.Errorf("ffprobe: %s has no video stream", path)
	}
	return info, nil
}
