package adb

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lrgstore/idstore/pkg/logger"
)

// OCR reads text from screenshot regions. Implementations may be
// unavailable at runtime; callers degrade to non-OCR behaviour.
type OCR interface {
	Available() bool
	Text(ctx context.Context, imagePath string, crop image.Rectangle) (string, error)
	Digits(ctx context.Context, imagePath string, crop image.Rectangle) (string, error)
}

var digitPattern = regexp.MustCompile(`\d+`)

// TesseractOCR shells out to the tesseract binary.
type TesseractOCR struct {
	binary  string
	workDir string
	log     *logger.Logger
}

var _ OCR = (*TesseractOCR)(nil)

// NewTesseractOCR creates an OCR backed by the tesseract binary. workDir
// holds intermediate cropped images.
func NewTesseractOCR(binary, workDir string, log *logger.Logger) *TesseractOCR {
	if binary == "" {
		binary = "tesseract"
	}
	if log == nil {
		log = logger.NewDefault("ocr")
	}
	return &TesseractOCR{binary: binary, workDir: workDir, log: log}
}

// Available reports whether the tesseract binary can be found.
func (t *TesseractOCR) Available() bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

// Text reads all text from the cropped region of the image.
func (t *TesseractOCR) Text(ctx context.Context, imagePath string, crop image.Rectangle) (string, error) {
	return t.read(ctx, imagePath, crop)
}

// Digits reads the digits from the cropped region, concatenated in order.
func (t *TesseractOCR) Digits(ctx context.Context, imagePath string, crop image.Rectangle) (string, error) {
	text, err := t.read(ctx, imagePath, crop, "--psm", "6", "digits")
	if err != nil {
		return "", err
	}
	return strings.Join(digitPattern.FindAllString(text, -1), ""), nil
}

func (t *TesseractOCR) read(ctx context.Context, imagePath string, crop image.Rectangle, extraArgs ...string) (string, error) {
	input := imagePath
	if !crop.Empty() {
		cropped, err := t.cropImage(imagePath, crop)
		if err != nil {
			return "", err
		}
		defer os.Remove(cropped)
		input = cropped
	}

	args := append([]string{input, "stdout"}, extraArgs...)
	out, err := exec.CommandContext(ctx, t.binary, args...).Output()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return string(out), nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func (t *TesseractOCR) cropImage(imagePath string, crop image.Rectangle) (string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", imagePath, err)
	}

	sub, ok := img.(subImager)
	if !ok {
		return "", fmt.Errorf("image %s does not support cropping", imagePath)
	}

	outPath := filepath.Join(t.workDir, "crop_"+filepath.Base(imagePath))
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := png.Encode(out, sub.SubImage(crop.Intersect(img.Bounds()))); err != nil {
		os.Remove(outPath)
		return "", err
	}
	return outPath, nil
}
