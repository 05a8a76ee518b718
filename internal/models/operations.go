package models

import "fmt"

// OperationKind identifies a supported conversion operation.
type OperationKind string

const (
	OpPDFToWord   OperationKind = "pdf_to_word"
	OpPDFToExcel  OperationKind = "pdf_to_excel"
	OpWordToPDF   OperationKind = "word_to_pdf"
	OpExcelToPDF  OperationKind = "excel_to_pdf"
	OpCompressPDF OperationKind = "compress_pdf"
	OpMergePDF    OperationKind = "merge_pdf"
	OpSplitPDF    OperationKind = "split_pdf"
	OpPDFToImages OperationKind = "pdf_to_images"
	OpImagesToPDF OperationKind = "images_to_pdf"
)

// Split modes accepted for OpSplitPDF.
const (
	SplitModeRange     = "range"
	SplitModePages     = "pages"
	SplitModeBookmarks = "bookmarks"
)

// Descriptor describes an operation kind once, centrally. Batch marks kinds
// whose inputs collapse into a single output and therefore a single job;
// all other kinds process each input file independently.
type Descriptor struct {
	Kind         OperationKind
	Slug         string // storage subfolder for inputs of this operation
	OutputFormat string // provider target format; empty for optimize-style ops
	PDFInput     bool   // inputs must parse as PDF
	Batch        bool
	MinInputs    int
	Cost         int // coin price charged per job
}

var registry = map[OperationKind]Descriptor{
	OpPDFToWord:   {Kind: OpPDFToWord, Slug: "pdf-to-word", OutputFormat: "docx", PDFInput: true, MinInputs: 1, Cost: 2},
	OpPDFToExcel:  {Kind: OpPDFToExcel, Slug: "pdf-to-excel", OutputFormat: "xlsx", PDFInput: true, MinInputs: 1, Cost: 2},
	OpWordToPDF:   {Kind: OpWordToPDF, Slug: "word-to-pdf", OutputFormat: "pdf", MinInputs: 1, Cost: 2},
	OpExcelToPDF:  {Kind: OpExcelToPDF, Slug: "excel-to-pdf", OutputFormat: "pdf", MinInputs: 1, Cost: 2},
	OpCompressPDF: {Kind: OpCompressPDF, Slug: "compress", PDFInput: true, MinInputs: 1, Cost: 1},
	OpMergePDF:    {Kind: OpMergePDF, Slug: "merge", OutputFormat: "pdf", PDFInput: true, Batch: true, MinInputs: 2, Cost: 3},
	OpSplitPDF:    {Kind: OpSplitPDF, Slug: "split", OutputFormat: "pdf", PDFInput: true, MinInputs: 1, Cost: 2},
	OpPDFToImages: {Kind: OpPDFToImages, Slug: "pdf-to-images", OutputFormat: "jpg", PDFInput: true, MinInputs: 1, Cost: 2},
	OpImagesToPDF: {Kind: OpImagesToPDF, Slug: "images-to-pdf", OutputFormat: "pdf", Batch: true, MinInputs: 1, Cost: 3},
}

// Lookup resolves kind against the registry. The returned error is
// ErrUnsupportedOperation (wrapped) for unknown kinds.
func Lookup(kind OperationKind) (Descriptor, error) {
	d, ok := registry[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnsupportedOperation, kind)
	}
	return d, nil
}

// ValidateParameters checks p against the option set kind accepts. Options
// belonging to a different kind, or out-of-range values, are rejected with
// an InvalidParametersError naming the offending field.
func (d Descriptor) ValidateParameters(p Parameters) error {
	switch d.Kind {
	case OpCompressPDF:
		if p.CompressionLevel < 1 || p.CompressionLevel > 3 {
			return &InvalidParametersError{Field: "compressionLevel", Reason: "must be between 1 and 3"}
		}
		if p.SplitMode != "" || p.SplitValue != "" {
			return &InvalidParametersError{Field: "splitMode", Reason: "not accepted for " + string(d.Kind)}
		}
	case OpSplitPDF:
		switch p.SplitMode {
		case SplitModeRange, SplitModePages, SplitModeBookmarks:
		default:
			return &InvalidParametersError{Field: "splitMode", Reason: "must be one of range, pages, bookmarks"}
		}
		if p.SplitValue == "" {
			return &InvalidParametersError{Field: "splitValue", Reason: "required for " + string(d.Kind)}
		}
		if p.CompressionLevel != 0 {
			return &InvalidParametersError{Field: "compressionLevel", Reason: "not accepted for " + string(d.Kind)}
		}
	default:
		if p.CompressionLevel != 0 {
			return &InvalidParametersError{Field: "compressionLevel", Reason: "not accepted for " + string(d.Kind)}
		}
		if p.SplitMode != "" || p.SplitValue != "" {
			return &InvalidParametersError{Field: "splitMode", Reason: "not accepted for " + string(d.Kind)}
		}
	}
	return nil
}
