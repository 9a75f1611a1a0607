//go:build !tesseract

package extractor

func newOCRRecognizer() TextRecognizer { return nil }
