package webcam

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

var contentLengthRe = regexp.MustCompile(`(?i)content-length:\s*(\d+)`)

// NextStreamFrame connects to the MJPEG stream and extracts a single JPEG by
// reading the multipart headers up to Content-Length, then exactly that many
// body bytes.
func (c *Capturer) NextStreamFrame(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid stream url: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	return readMultipartFrame(bufio.NewReader(resp.Body))
}

func readMultipartFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("multipart header not found: %w", err)
		}

		if m := contentLengthRe.FindStringSubmatch(line); m != nil {
			length, err = strconv.Atoi(m[1])
			if err != nil || length <= 0 || length > maxFrameBytes {
				return nil, fmt.Errorf("bad multipart content length %q", m[1])
			}
			continue
		}

		// blank line ends the part headers
		if strings.TrimRight(line, "\r\n") == "" && length > 0 {
			break
		}
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("truncated mjpeg frame: %w", err)
	}
	return frame, nil
}
