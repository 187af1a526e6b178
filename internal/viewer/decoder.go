package viewer

import (
	"bytes"
	"image"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/vp8"
)

const (
	videoClockRate = 90000
	// maxLate is how many packets the sample builder waits for a gap to fill.
	maxLate = 256
)

// Stats counts what a FrameDecoder has seen.
type Stats struct {
	Packets      int
	Bytes        int
	Frames       int
	KeyFrames    int
	DecodeErrors int
}

// FrameDecoder reassembles VP8 frames from RTP and decodes key frames.
// Inter frames are counted and skipped; the window refreshes by asking the
// sender for key frames.
type FrameDecoder struct {
	builder *samplebuilder.SampleBuilder
	vp8     *vp8.Decoder
	stats   Stats
}

func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{
		builder: samplebuilder.New(maxLate, &codecs.VP8Packet{}, videoClockRate),
		vp8:     vp8.NewDecoder(),
	}
}

func (d *FrameDecoder) Stats() Stats { return d.stats }

// Push adds one packet. It returns the newest key frame completed by it, or
// nil.
func (d *FrameDecoder) Push(pkt *rtp.Packet) image.Image {
	d.stats.Packets++
	d.stats.Bytes += len(pkt.Payload)
	d.builder.Push(pkt)

	var latest image.Image
	for s := d.builder.Pop(); s != nil; s = d.builder.Pop() {
		d.stats.Frames++
		img, err := d.decode(s.Data)
		if err != nil {
			d.stats.DecodeErrors++
			continue
		}
		if img != nil {
			latest = img
		}
	}
	return latest
}

func (d *FrameDecoder) decode(frame []byte) (image.Image, error) {
	d.vp8.Init(bytes.NewReader(frame), len(frame))
	fh, err := d.vp8.DecodeFrameHeader()
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return nil, nil
	}
	img, err := d.vp8.DecodeFrame()
	if err != nil {
		return nil, err
	}
	d.stats.KeyFrames++
	return img, nil
}

// FitSize shrinks src to fit within bound, keeping its aspect ratio. It
// never enlarges.
func FitSize(src, bound image.Point) image.Point {
	if bound.X <= 0 || bound.Y <= 0 || (src.X <= bound.X && src.Y <= bound.Y) {
		return src
	}
	w, h := bound.X, src.Y*bound.X/src.X
	if h > bound.Y {
		w, h = src.X*bound.Y/src.Y, bound.Y
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Pt(w, h)
}

// ToRGBA converts a decoded frame for upload, scaling it down to bound.
func ToRGBA(src image.Image, bound image.Point) *image.RGBA {
	sb := src.Bounds()
	size := FitSize(sb.Size(), bound)
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	if size == sb.Size() {
		xdraw.Draw(dst, dst.Bounds(), src, sb.Min, xdraw.Src)
		return dst
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, xdraw.Src, nil)
	return dst
}
