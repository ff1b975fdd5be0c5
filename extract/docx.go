package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

func extractDOCX(path string) (*Result, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	fileIndex := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileIndex[f.Name] = f
	}

	docFile := fileIndex["word/document.xml"]
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	data, err := readZipFile(docFile)
	if err != nil {
		return nil, fmt.Errorf("reading document.xml: %w", err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	var parts []string
	for _, para := range doc.Body.Paras {
		text := paraText(para)
		if text != "" {
			parts = append(parts, text)
		}
	}

	for _, tbl := range doc.Body.Tables {
		var rows []string
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var cellText strings.Builder
				for _, p := range cell.Paras {
					if cellText.Len() > 0 {
						cellText.WriteString(" ")
					}
					cellText.WriteString(paraText(p))
				}
				cells = append(cells, cellText.String())
			}
			rows = append(rows, strings.Join(cells, " | "))
		}
		if len(rows) > 0 {
			parts = append(parts, strings.Join(rows, "\n"))
		}
	}

	metadata := map[string]string{
		"file_type":       "docx",
		"paragraph_count": fmt.Sprintf("%d", len(doc.Body.Paras)),
		"table_count":     fmt.Sprintf("%d", len(doc.Body.Tables)),
	}
	addCoreProps(fileIndex, metadata)

	return &Result{
		Text:     strings.Join(parts, "\n"),
		Metadata: metadata,
	}, nil
}

// addCoreProps copies title/author from docProps/core.xml when present.
func addCoreProps(fileIndex map[string]*zip.File, metadata map[string]string) {
	propsFile := fileIndex["docProps/core.xml"]
	if propsFile == nil {
		return
	}
	data, err := readZipFile(propsFile)
	if err != nil {
		return
	}

	var props docxCoreProps
	if err := xml.Unmarshal(data, &props); err != nil {
		return
	}
	if props.Title != "" {
		metadata["title"] = props.Title
	}
	if props.Creator != "" {
		metadata["author"] = props.Creator
	}
	if props.Subject != "" {
		metadata["subject"] = props.Subject
	}
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// DOCX XML structures (simplified)
type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	XMLName xml.Name    `xml:"body"`
	Paras   []docxPara  `xml:"p"`
	Tables  []docxTable `xml:"tbl"`
}

type docxPara struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

type docxCoreProps struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
	Subject string `xml:"subject"`
}

func paraText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return b.String()
}
