// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
)

type call struct {
	name string
	args []string
}

type stubRunner struct {
	calls []call
	out   Output
	err   error
	write string // when set, the last arg is created with this content
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) (Output, error) {
	s.calls = append(s.calls, call{name: name, args: args})
	if s.write != "" && len(args) > 0 {
		_ = os.WriteFile(args[len(args)-1], []byte(s.write), 0o600)
	}
	return s.out, s.err
}

const videoReport = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001", "duration": "12.480000"},
    {"codec_type": "audio", "codec_name": "aac", "duration": "12.500000"}
  ],
  "format": {"duration": "12.512000"}
}`

func touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o600))
	return path
}

func TestProbeParsesVideo(t *testing.T) {
	r := &stubRunner{out: Output{Stdout: []byte(videoReport)}}
	p := New(config.MediaConfig{FFprobeBin: "/opt/ffprobe"}, r)
	path := touch(t, "clip.mp4")

	info, err := p.Probe(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, Info{
		DurationMS: 12512,
		Width:      1920,
		Height:     1080,
		FPS:        29.97,
		HasAudio:   true,
		HasVideo:   true,
		AudioCodec: "aac",
	}, info)
	assert.Equal(t, int64(13), info.Seconds())

	require.Len(t, r.calls, 1)
	assert.Equal(t, "/opt/ffprobe", r.calls[0].name)
	assert.Equal(t, []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path}, r.calls[0].args)
}

func TestProbeFallsBackToStreamDuration(t *testing.T) {
	r := &stubRunner{out: Output{Stdout: []byte(`{"streams": [{"codec_type": "audio", "codec_name": "mp3", "duration": "3.0"}], "format": {}}`)}}
	info, err := New(config.MediaConfig{}, r).Probe(context.Background(), touch(t, "a.mp3"))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), info.DurationMS)
	assert.False(t, info.HasVideo)
	assert.Equal(t, "ffprobe", r.calls[0].name)
}

func TestProbeFailures(t *testing.T) {
	tests := []struct {
		name   string
		runner *stubRunner
		want   error
	}{
		{"non-zero exit", &stubRunner{out: Output{ExitCode: 1, Stderr: []byte("moov atom not found")}, err: errors.New("exit status 1")}, fault.ErrMediaDecode},
		{"garbage json", &stubRunner{out: Output{Stdout: []byte("not json")}}, fault.ErrMediaDecode},
		{"no audio", &stubRunner{out: Output{Stdout: []byte(`{"streams": [{"codec_type": "video"}], "format": {"duration": "1"}}`)}}, fault.ErrMediaDecode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(config.MediaConfig{}, tc.runner).Probe(context.Background(), touch(t, "x.mkv"))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestProbeMissingFile(t *testing.T) {
	r := &stubRunner{}
	_, err := New(config.MediaConfig{}, r).Probe(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
	assert.Empty(t, r.calls)
}

func TestProbeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &stubRunner{err: context.Canceled, out: Output{ExitCode: -1}}
	_, err := New(config.MediaConfig{}, r).Probe(ctx, touch(t, "x.wav"))
	assert.ErrorIs(t, err, fault.ErrCancelled)
}

func TestToWAV(t *testing.T) {
	r := &stubRunner{write: "RIFF"}
	src := touch(t, "in.mp4")
	dst := filepath.Join(t.TempDir(), "work", "in.wav")

	require.NoError(t, New(config.MediaConfig{FFmpegBin: "ffmpeg"}, r).ToWAV(context.Background(), src, dst))
	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"-hide_banner", "-nostdin", "-y", "-i", src, "-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", dst}, r.calls[0].args)
	assert.FileExists(t, dst)
}

func TestToWAVFailureRemovesPartialOutput(t *testing.T) {
	r := &stubRunner{write: "partial", out: Output{ExitCode: 1}, err: errors.New("exit status 1")}
	dst := filepath.Join(t.TempDir(), "out.wav")

	err := New(config.MediaConfig{}, r).ToWAV(context.Background(), touch(t, "in.mp4"), dst)
	assert.ErrorIs(t, err, fault.ErrMediaDecode)
	assert.NoFileExists(t, dst)
}

func TestToWAVEmptyOutput(t *testing.T) {
	err := New(config.MediaConfig{}, &stubRunner{}).ToWAV(context.Background(), touch(t, "in.mp4"), filepath.Join(t.TempDir(), "o.wav"))
	assert.ErrorIs(t, err, fault.ErrMediaDecode)
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 25.0, parseRate("25/1"))
	assert.Equal(t, 23.976, parseRate("24000/1001"))
	assert.Equal(t, 0.0, parseRate("0/0"))
	assert.Equal(t, 30.0, parseRate("30"))
}
