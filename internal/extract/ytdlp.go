// Package extract resolves YouTube video ids to direct audio stream URLs by
// shelling out to yt-dlp.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"wevibe/internal/core"
)

const (
	watchURL     = "https://www.youtube.com/watch?v=%s"
	formatSpec   = "bestaudio[ext=m4a]/bestaudio/best"
	refererHdr   = "referer:youtube.com"
	userAgentHdr = "user-agent:Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
)

type ytdlpFormat struct {
	URL    string `json:"url"`
	ACodec string `json:"acodec"`
	VCodec string `json:"vcodec"`
}

type ytdlpInfo struct {
	URL                string        `json:"url"`
	RequestedDownloads []ytdlpFormat `json:"requested_downloads"`
	Formats            []ytdlpFormat `json:"formats"`
}

// YTDLP runs the yt-dlp binary. The call blocks for up to the configured
// timeout; failures and empty candidate sets wrap core.ErrExtraction.
type YTDLP struct {
	config *core.ExtractorConfig
	logger *zap.Logger
}

func NewYTDLP(config *core.ExtractorConfig, logger *zap.Logger) *YTDLP {
	return &YTDLP{config: config, logger: logger}
}

// Extract returns the best available audio-only stream URL for the video.
func (y *YTDLP) Extract(ctx context.Context, externalKey string) (string, error) {
	if y.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.config.Timeout)
		defer cancel()
	}

	path := y.config.Path
	if path == "" {
		path = "yt-dlp"
	}

	args := []string{
		"--dump-single-json",
		"--no-playlist",
		"--no-warnings",
		"--no-check-certificates",
		"--quiet",
		"-f", formatSpec,
		"--add-header", refererHdr,
		"--add-header", userAgentHdr,
		fmt.Sprintf(watchURL, externalKey),
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: yt-dlp timed out after %s", core.ErrExtraction, y.config.Timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("%w: yt-dlp failed: %s", core.ErrExtraction, detail)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return "", fmt.Errorf("%w: decode yt-dlp output: %v", core.ErrExtraction, err)
	}

	url := selectAudioURL(&info)
	if url == "" {
		return "", fmt.Errorf("%w: no url-bearing candidate for %s", core.ErrExtraction, externalKey)
	}

	y.logger.Debug("Extracted audio stream", zap.String("externalKey", externalKey))
	return url, nil
}

// selectAudioURL picks the stream URL from a yt-dlp info dump: the
// top-level url, then the requested download, then the first pure-audio
// format (audio codec present, video codec absent or "none"), and finally
// any format that carries a URL at all.
func selectAudioURL(info *ytdlpInfo) string {
	if url := strings.TrimSpace(info.URL); url != "" {
		return url
	}

	if len(info.RequestedDownloads) > 0 {
		if url := strings.TrimSpace(info.RequestedDownloads[0].URL); url != "" {
			return url
		}
	}

	for i := range info.Formats {
		f := &info.Formats[i]
		if f.URL == "" {
			continue
		}
		if f.ACodec != "" && f.ACodec != "none" && (f.VCodec == "" || f.VCodec == "none") {
			return f.URL
		}
	}

	for i := range info.Formats {
		if info.Formats[i].URL != "" {
			return info.Formats[i].URL
		}
	}

	return ""
}
