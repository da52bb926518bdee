package library

// GraphNode is one concept term in the cross-document graph.
type GraphNode struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DocumentIDs []string `json:"document_ids"`
	// CategoryIndex is the position of the node's first document in
	// Graph.Documents.
	CategoryIndex *int `json:"category_index"`
}

// GraphLink is a relationship edge and the document it came from.
type GraphLink struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Label      *string `json:"label"`
	DocumentID string  `json:"document_id"`
}

// GraphDocument names a document that contributed to the graph.
type GraphDocument struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Graph is the concept graph across several documents.
type Graph struct {
	Nodes     []GraphNode     `json:"nodes"`
	Links     []GraphLink     `json:"links"`
	Documents []GraphDocument `json:"documents"`
}

type linkKey struct {
	source, target, label string
	labelled              bool
	docID                 string
}

// Graph merges the relationships of the documents named by ids, or of every
// document when ids is empty. Only terms that appear in a link become nodes.
// Documents keep library order, nodes and links keep first-seen order and
// identical links from the same document are merged.
func (s *Store) Graph(ids ...string) Graph {
	var filter map[string]bool
	if len(ids) > 0 {
		filter = make(map[string]bool, len(ids))
		for _, id := range ids {
			filter[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g := Graph{Nodes: []GraphNode{}, Links: []GraphLink{}, Documents: []GraphDocument{}}
	docIndex := make(map[string]int)
	termDocs := make(map[string][]string)
	mention := func(term, docID string) {
		list := termDocs[term]
		for _, id := range list {
			if id == docID {
				return
			}
		}
		termDocs[term] = append(list, docID)
	}

	seenLinks := make(map[linkKey]bool)
	var nodeOrder []string
	seenNodes := make(map[string]bool)
	addNode := func(term string) {
		if !seenNodes[term] {
			seenNodes[term] = true
			nodeOrder = append(nodeOrder, term)
		}
	}

	for _, doc := range s.docs {
		if filter != nil && !filter[doc.ID] {
			continue
		}
		docIndex[doc.ID] = len(g.Documents)
		g.Documents = append(g.Documents, GraphDocument{ID: doc.ID, Title: doc.Title})
		for _, c := range doc.Concepts {
			mention(c.Term, doc.ID)
		}
		for _, r := range doc.Relationships {
			mention(r.Source, doc.ID)
			mention(r.Target, doc.ID)
			key := linkKey{source: r.Source, target: r.Target, labelled: r.Label != nil, docID: doc.ID}
			if r.Label != nil {
				key.label = *r.Label
			}
			if seenLinks[key] {
				continue
			}
			seenLinks[key] = true
			link := GraphLink{Source: r.Source, Target: r.Target, DocumentID: doc.ID}
			if r.Label != nil {
				label := *r.Label
				link.Label = &label
			}
			g.Links = append(g.Links, link)
			addNode(r.Source)
			addNode(r.Target)
		}
	}

	for _, term := range nodeOrder {
		docs := termDocs[term]
		node := GraphNode{ID: term, Name: term, DocumentIDs: append([]string(nil), docs...)}
		if len(docs) > 0 {
			idx := docIndex[docs[0]]
			node.CategoryIndex = &idx
		}
		g.Nodes = append(g.Nodes, node)
	}
	return g
}
