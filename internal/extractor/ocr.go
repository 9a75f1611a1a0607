package extractor

// OCRAvailable reports whether this binary was built with an OCR engine.
func OCRAvailable() bool {
	return newOCRRecognizer() != nil
}

// OCROption returns WithTextRecognizer for the compiled-in OCR engine, or nil when the
// binary was built without one.
func OCROption() Option {
	r := newOCRRecognizer()
	if r == nil {
		return nil
	}
	return WithTextRecognizer(r)
}
