package dcat

import (
	"bytes"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/knakk/rdf"
)

// Vocabulary IRIs.
const (
	rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

	dcatNS           = "http://www.w3.org/ns/dcat#"
	dcatDataset      = dcatNS + "Dataset"
	dcatDistribution = dcatNS + "distribution"
	dcatKeyword      = dcatNS + "keyword"
	dcatTheme        = dcatNS + "theme"
	dcatLandingPage  = dcatNS + "landingPage"
	dcatDownloadURL  = dcatNS + "downloadURL"
	dcatAccessURL    = dcatNS + "accessURL"
	dcatMediaType    = dcatNS + "mediaType"
	dcatByteSize     = dcatNS + "byteSize"
	dcatStartDate    = dcatNS + "startDate"
	dcatEndDate      = dcatNS + "endDate"

	dctNS                 = "http://purl.org/dc/terms/"
	dctIdentifier         = dctNS + "identifier"
	dctTitle              = dctNS + "title"
	dctDescription        = dctNS + "description"
	dctLicense            = dctNS + "license"
	dctRights             = dctNS + "rights"
	dctAccrualPeriodicity = dctNS + "accrualPeriodicity"
	dctSpatial            = dctNS + "spatial"
	dctTemporal           = dctNS + "temporal"
	dctIssued             = dctNS + "issued"
	dctModified           = dctNS + "modified"
	dctFormat             = dctNS + "format"
	dctConformsTo         = dctNS + "conformsTo"

	schemaStartDate = "http://schema.org/startDate"
	schemaEndDate   = "http://schema.org/endDate"

	spdxChecksum      = "http://spdx.org/rdf/terms#checksum"
	spdxAlgorithm     = "http://spdx.org/rdf/terms#algorithm"
	spdxChecksumValue = "http://spdx.org/rdf/terms#checksumValue"

	locnGeometry   = "http://www.w3.org/ns/locn#geometry"
	skosPrefLabel  = "http://www.w3.org/2004/02/skos/core#prefLabel"
	rdfsLabel      = "http://www.w3.org/2000/01/rdf-schema#label"
	hydraNext      = "http://www.w3.org/ns/hydra/core#next"
	hydraNextPage  = "http://www.w3.org/ns/hydra/core#nextPage"
	ianaMediaTypes = "http://www.iana.org/assignments/media-types/"
)

// acceptHeader negotiates the serializations the decoder understands.
const acceptHeader = "text/turtle, application/rdf+xml;q=0.9, application/n-triples;q=0.8"

// graph indexes the triples of one page by subject, keeping subjects in
// document order.
type graph struct {
	bySubject map[string][]rdf.Triple
	subjects  []string
	size      int
}

func decodeGraph(body []byte, format rdf.Format) (*graph, error) {
	triples, err := rdf.NewTripleDecoder(bytes.NewReader(body), format).DecodeAll()
	if err != nil {
		return nil, err
	}
	g := &graph{bySubject: make(map[string][]rdf.Triple), size: len(triples)}
	for _, t := range triples {
		s := t.Subj.String()
		if _, ok := g.bySubject[s]; !ok {
			g.subjects = append(g.subjects, s)
		}
		g.bySubject[s] = append(g.bySubject[s], t)
	}
	return g, nil
}

// ofType returns the subjects typed typeIRI, in document order.
func (g *graph) ofType(typeIRI string) []string {
	var out []string
	for _, s := range g.subjects {
		for _, t := range g.bySubject[s] {
			if t.Pred.String() == rdfType && t.Obj.String() == typeIRI {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (g *graph) objects(subject, pred string) []rdf.Object {
	var out []rdf.Object
	for _, t := range g.bySubject[subject] {
		if t.Pred.String() == pred {
			out = append(out, t.Obj)
		}
	}
	return out
}

// value returns the first non-empty object of pred, as text.
func (g *graph) value(subject string, preds ...string) string {
	for _, p := range preds {
		for _, o := range g.objects(subject, p) {
			if v := strings.TrimSpace(o.String()); v != "" {
				return v
			}
		}
	}
	return ""
}

// values returns every non-empty object of pred, as text.
func (g *graph) values(subject, pred string) []string {
	var out []string
	for _, o := range g.objects(subject, pred) {
		if v := strings.TrimSpace(o.String()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// label returns a human label for a node: the node itself when it is a
// literal or has no label, its skos/rdfs label otherwise.
func (g *graph) label(o rdf.Object) string {
	if o.Type() == rdf.TermLiteral {
		return strings.TrimSpace(o.String())
	}
	if l := g.value(o.String(), skosPrefLabel, rdfsLabel); l != "" {
		return l
	}
	if o.Type() == rdf.TermIRI {
		return o.String()
	}
	return ""
}

// next returns the hydra next page link, if any.
func (g *graph) next() string {
	for _, s := range g.subjects {
		if v := g.value(s, hydraNext, hydraNextPage); v != "" {
			return v
		}
	}
	return ""
}

func isIRI(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// detectFormat picks the decoder from the content type, then from the URL
// extension, then by sniffing the body.
func detectFormat(contentType, rawURL string, body []byte) (rdf.Format, string, error) {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "text/turtle", "application/x-turtle":
			return rdf.Turtle, "turtle", nil
		case "application/rdf+xml", "application/xml", "text/xml":
			return rdf.RDFXML, "xml", nil
		case "application/n-triples":
			return rdf.NTriples, "nt", nil
		}
	}
	switch strings.ToLower(path.Ext(strings.SplitN(rawURL, "?", 2)[0])) {
	case ".ttl":
		return rdf.Turtle, "turtle", nil
	case ".rdf", ".xml":
		return rdf.RDFXML, "xml", nil
	case ".nt":
		return rdf.NTriples, "nt", nil
	}
	head := bytes.TrimSpace(body)
	switch {
	case bytes.HasPrefix(head, []byte("<?xml")), bytes.HasPrefix(head, []byte("<rdf:RDF")):
		return rdf.RDFXML, "xml", nil
	case bytes.HasPrefix(head, []byte("@prefix")), bytes.HasPrefix(head, []byte("PREFIX")), bytes.HasPrefix(head, []byte("@base")):
		return rdf.Turtle, "turtle", nil
	case bytes.HasPrefix(head, []byte("<http")):
		return rdf.NTriples, "nt", nil
	}
	return 0, "", fmt.Errorf("unsupported graph serialization %q", contentType)
}
