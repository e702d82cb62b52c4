package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"
)

// writeQR renders content as a QR code using half-block characters, two
// module rows per line. invert swaps dark and light for dark terminals.
func writeQR(w io.Writer, content string, invert bool) error {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode QR: %w", err)
	}
	_, err = io.WriteString(w, renderBitmap(qr.Bitmap(), invert))
	return err
}

// writeQRPNG writes content as a 256px PNG
func writeQRPNG(path, content string) error {
	return qrcode.WriteFile(content, qrcode.Medium, 256, path)
}

func renderBitmap(bitmap [][]bool, invert bool) string {
	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x] != invert
			bottom := invert
			if y+1 < len(bitmap) {
				bottom = bitmap[y+1][x] != invert
			}
			switch {
			case top && bottom:
				b.WriteString("█")
			case top:
				b.WriteString("▀")
			case bottom:
				b.WriteString("▄")
			default:
				b.WriteString(" ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
