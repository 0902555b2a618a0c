// Package picture 统一处理上传或生成的食谱图片：解码、按需缩放并重新编码为 JPEG。
package picture

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Ext 是归一化后图片的扩展名。
const Ext = ".jpg"

const jpegQuality = 85

// ErrEmpty 表示图片内容为空。
var ErrEmpty = errors.New("empty image")

// Normalize 解码图片（按 EXIF 方向旋转），宽度超过 maxWidth 时等比缩放，输出 JPEG。
// maxWidth <= 0 时不缩放。
func Normalize(data []byte, maxWidth int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img = fit(img, maxWidth)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}
