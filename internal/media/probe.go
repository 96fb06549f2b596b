// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media inspects input files with ffprobe and converts them to the
// 16 kHz mono WAV the recognisers expect.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
)

// Info describes a probed media file.
type Info struct {
	DurationMS int64   `json:"duration_ms"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	HasAudio   bool    `json:"has_audio"`
	HasVideo   bool    `json:"has_video"`
	AudioCodec string  `json:"audio_codec"`
}

// Seconds returns the duration rounded up to whole seconds.
func (i Info) Seconds() int64 {
	return int64(math.Ceil(float64(i.DurationMS) / 1000))
}

type Prober struct {
	ffprobe string
	ffmpeg  string
	runner  Runner
}

// New returns a prober. A nil runner uses ExecRunner.
func New(cfg config.MediaConfig, runner Runner) *Prober {
	if runner == nil {
		runner = ExecRunner{}
	}
	p := &Prober{ffprobe: cfg.FFprobeBin, ffmpeg: cfg.FFmpegBin, runner: runner}
	if p.ffprobe == "" {
		p.ffprobe = "ffprobe"
	}
	if p.ffmpeg == "" {
		p.ffmpeg = "ffmpeg"
	}
	return p
}

type probeReport struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on path. Files without an audio stream are rejected.
func (p *Prober) Probe(ctx context.Context, path string) (Info, error) {
	const op = "media.probe"
	start := time.Now()
	var info Info

	if _, err := os.Stat(path); err != nil {
		return info, fault.Wrap(fault.KindInvalidInput, op, err)
	}

	out, err := p.runner.Run(ctx, p.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		metrics.ObserveStage("probe", "error", time.Since(start))
		if ctx.Err() != nil {
			return info, fault.Wrap(fault.KindCancelled, op, ctx.Err())
		}
		return info, fault.Wrapf(fault.KindMediaDecode, op, stderrTail(out.Stderr), err)
	}

	var rep probeReport
	if err := json.Unmarshal(out.Stdout, &rep); err != nil {
		return info, fault.Wrapf(fault.KindMediaDecode, op, "unparsable ffprobe report", err)
	}

	var streamDur float64
	for _, s := range rep.Streams {
		switch s.CodecType {
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = s.CodecName
			}
			streamDur = math.Max(streamDur, parseFloat(s.Duration))
		case "video":
			if !info.HasVideo {
				info.HasVideo = true
				info.Width, info.Height = s.Width, s.Height
				info.FPS = parseRate(s.AvgFrameRate)
				if info.FPS == 0 {
					info.FPS = parseRate(s.RFrameRate)
				}
			}
			streamDur = math.Max(streamDur, parseFloat(s.Duration))
		}
	}
	if !info.HasAudio {
		return info, fault.New(fault.KindMediaDecode, op, "no audio stream in "+filepath.Base(path))
	}

	dur := parseFloat(rep.Format.Duration)
	if dur == 0 {
		dur = streamDur
	}
	info.DurationMS = int64(math.Round(dur * 1000))

	metrics.ObserveStage("probe", "ok", time.Since(start))
	logger := log.WithComponentFromContext(ctx, "media")
	logger.Debug().
		Str(log.FieldPath, path).
		Int64("duration_ms", info.DurationMS).
		Bool("has_video", info.HasVideo).
		Str("audio_codec", info.AudioCodec).
		Msg("probed media")
	return info, nil
}

// ToWAV converts src to 16 kHz mono PCM at dst.
func (p *Prober) ToWAV(ctx context.Context, src, dst string) error {
	const op = "media.to_wav"
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create wav dir: %w", err)
	}
	out, err := p.runner.Run(ctx, p.ffmpeg,
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dst,
	)
	if err != nil {
		_ = os.Remove(dst)
		metrics.ObserveStage("to_wav", "error", time.Since(start))
		if ctx.Err() != nil {
			return fault.Wrap(fault.KindCancelled, op, ctx.Err())
		}
		return fault.Wrapf(fault.KindMediaDecode, op, fmt.Sprintf("exit %d: %s", out.ExitCode, stderrTail(out.Stderr)), err)
	}
	if st, err := os.Stat(dst); err != nil || st.Size() == 0 {
		return fault.New(fault.KindMediaDecode, op, "ffmpeg produced no output")
	}
	metrics.ObserveStage("to_wav", "ok", time.Since(start))
	return nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || f < 0 {
		return 0
	}
	return f
}

// parseRate reads ffprobe fractions such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return math.Round(n/d*1000) / 1000
}

func stderrTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		s = s[len(s)-300:]
	}
	return s
}
