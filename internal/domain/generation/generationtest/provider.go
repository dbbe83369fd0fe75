// Package generationtest provides a scripted inference provider for tests.
package generationtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"sync"

	"github.com/pixora/pixora-api/internal/pkg/inference"
)

var (
	ErrSubmitFailed = errors.New("scripted submission failure")
	ErrUnreachable  = errors.New("scripted unreachable asset")
)

// Provider implements generation.Provider and artifact.Fetcher. Jobs start as
// "processing" and move to whatever Finish or FailNext scripts.
type Provider struct {
	mu          sync.Mutex
	seq         int
	jobs        map[string]*inference.Prediction
	unreachable map[string]bool
	failSubmit  map[int]bool
	statusFor   map[int]string
	autoStatus  string
	submissions int
	cancels     []string
	image       []byte
}

func NewProvider() *Provider {
	return &Provider{
		jobs:        make(map[string]*inference.Prediction),
		unreachable: make(map[string]bool),
		failSubmit:  make(map[int]bool),
		statusFor:   make(map[int]string),
		image:       NoisePNG(64),
	}
}

// AutoComplete makes every new job report status immediately.
func (p *Provider) AutoComplete(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoStatus = status
}

// StatusFor makes the n-th submission (1-based) report status immediately, overriding
// AutoComplete.
func (p *Provider) StatusFor(n int, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusFor[n] = status
}

// FailSubmission makes the n-th submission (1-based) fail.
func (p *Provider) FailSubmission(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSubmit[n] = true
}

// Unreachable marks a reference asset as unreachable.
func (p *Provider) Unreachable(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreachable[url] = true
}

// Finish sets a job's provider status.
func (p *Provider) Finish(jobID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, ok := p.jobs[jobID]; ok {
		p.setStatusLocked(job, status)
	}
}

func (p *Provider) setStatusLocked(job *inference.Prediction, status string) {
	job.Status = status
	switch status {
	case "succeeded":
		out, _ := json.Marshal([]string{"https://provider.test/out/" + job.ID + ".png"})
		job.Output = out
	case "failed":
		job.Error = "model error"
	}
}

func (p *Provider) Submissions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submissions
}

func (p *Provider) Cancels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancels...)
}

func (p *Provider) CreatePrediction(ctx context.Context, in inference.PredictionRequest) (*inference.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.submissions++
	if p.failSubmit[p.submissions] {
		return nil, &inference.HTTPError{Status: 503, Body: ErrSubmitFailed.Error()}
	}

	p.seq++
	job := &inference.Prediction{ID: fmt.Sprintf("job-%d", p.seq), Status: "starting"}
	if status, ok := p.statusFor[p.submissions]; ok {
		p.setStatusLocked(job, status)
	} else if p.autoStatus != "" {
		p.setStatusLocked(job, p.autoStatus)
	}
	p.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (p *Provider) GetPrediction(ctx context.Context, id string) (*inference.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return nil, inference.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (p *Provider) CancelPrediction(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return inference.ErrNotFound
	}
	p.cancels = append(p.cancels, id)
	job.Status = "canceled"
	return nil
}

func (p *Provider) CheckAsset(ctx context.Context, rawURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unreachable[rawURL] {
		return ErrUnreachable
	}
	return nil
}

func (p *Provider) Download(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.image...), "image/png", nil
}

// NoisePNG encodes a size x size PNG of random pixels; noise keeps it from compressing
// below realistic payload floors.
func NoisePNG(size int) []byte {
	rnd := rand.New(rand.NewSource(int64(size)))
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.NRGBA{uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
