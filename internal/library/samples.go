package library

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/model"
)

// AddSampleDocuments seeds two demo documents when the store is empty and
// points the active pointer at the first one without touching its
// LastReadDate. It reports whether anything was seeded.
func (s *Store) AddSampleDocuments() bool {
	if s.Len() > 0 {
		return false
	}
	samples := sampleDocuments()
	for _, doc := range samples {
		s.AddDocument(doc)
	}

	s.lock()
	var out []pending
	if s.indexOf(samples[0].ID) >= 0 && s.currentID != samples[0].ID {
		s.currentID = samples[0].ID
		out = append(out, s.currentEvent())
	}
	s.unlockAndEmit(out)
	s.log.Info("sample documents seeded", zap.Int("count", len(samples)))
	return true
}

func sampleDocuments() []model.Document {
	return []model.Document{
		{
			ID:       "1",
			Title:    "Knowledge Graphs for Understanding Academic Literature",
			Authors:  []string{"Zhang San", "Li Si"},
			Year:     strPtr("2023"),
			Abstract: "This study explores how knowledge graph techniques support understanding of and knowledge extraction from academic literature. An entity relationship network lays out the core concepts and relations of complex papers and gives researchers a more direct way to navigate them.",
			Content: paragraphs(20,
				"A knowledge graph represents knowledge as a graph, with nodes for entities and edges for relations. When reading academic literature it helps identify the core concepts and terms of a paper and how they connect.",
				"With recent progress in artificial intelligence and natural language processing, knowledge graphs are used more and more in research. They let researchers process large volumes of papers, extract key information automatically and link it together.",
				"Paragraph %d of the sample explains further how knowledge graphs help with academic reading. Organizing knowledge this way lets researchers find related work faster and discover hidden links between ideas.",
			),
			FileName:     "knowledge-graph-applications.pdf",
			FileType:     model.DefaultFileType,
			FileSize:     1240000,
			UploadDate:   time.Date(2023, 10, 15, 0, 0, 0, 0, time.UTC),
			LastReadDate: time.Date(2023, 10, 20, 0, 0, 0, 0, time.UTC),
			Tags:         []string{"knowledge graph", "natural language processing", "academic literature"},
			Concepts: []model.Concept{
				concept("Knowledge Graph", "A structured way of representing knowledge as a graph, where nodes are entities and edges are relations."),
				concept("Entity Recognition", "Identifying named entities such as people, places and organizations in unstructured text."),
				concept("Relation Extraction", "Identifying relations between entities in text, a key step when building a knowledge graph."),
				concept("Academic Literature", "Peer reviewed papers, reports or books published within a discipline."),
				concept("Natural Language Processing", "A branch of artificial intelligence that studies how computers understand, interpret and generate human language."),
			},
			Relationships:     []model.Relationship{},
			DifficultyMarkers: []model.SegmentDifficultyMarker{},
			ReadStatus:        model.StatusUnread,
		},
		{
			ID:       "2",
			Title:    "Flow Theory and Learning Efficiency",
			Authors:  []string{"Wang Wu", "Zhao Liu"},
			Year:     strPtr("2022"),
			Abstract: "Based on Flow Theory from psychology, this study examines how balancing challenge against skill helps learners reach a flow state during study, which noticeably improves both learning efficiency and the quality of the experience.",
			Content: paragraphs(15,
				"Flow Theory, proposed by the psychologist Mihaly Csikszentmihalyi, describes the state of complete absorption people feel when fully focused on an activity. In that state time seems to pass unnoticed and satisfaction is high.",
				"Learners enter flow most easily when the challenge they face matches their skill. Tasks that are too easy cause boredom and tasks that are too hard cause anxiety, so the balance between challenge and skill is what leads to flow.",
				"Paragraph %d of the sample looks further at Flow Theory in learning. Research suggests flow improves concentration and memory and makes studying more enjoyable.",
			),
			FileName:     "flow-theory-and-learning.pdf",
			FileType:     model.DefaultFileType,
			FileSize:     980000,
			UploadDate:   time.Date(2022, 8, 10, 0, 0, 0, 0, time.UTC),
			LastReadDate: time.Date(2022, 9, 5, 0, 0, 0, 0, time.UTC),
			Tags:         []string{"flow theory", "learning efficiency", "cognitive psychology"},
			Concepts: []model.Concept{
				concept("Flow Theory", "A theory of optimal experience in which a person is fully absorbed in an activity whose challenge matches their skill."),
				concept("Flow State", "The optimal experience of complete focus on an activity, marked by concentration, distorted sense of time and intrinsic enjoyment."),
				concept("Challenge-Skill Balance", "The core idea of flow theory: task difficulty matches the person's level of ability."),
				concept("Intrinsic Motivation", "Drive that comes from within, such as interest, curiosity or enjoyment, rather than external reward."),
				concept("Learning Efficiency", "How much knowledge or skill a learner gains per unit of time."),
			},
			Relationships: []model.Relationship{
				{Source: "Challenge-Skill Balance", Target: "Flow State", Label: strPtr("leads to")},
				{Source: "Flow State", Target: "Learning Efficiency", Label: strPtr("improves")},
			},
			DifficultyMarkers: []model.SegmentDifficultyMarker{},
			ReadStatus:        model.StatusUnread,
		},
	}
}

// paragraphs builds n paragraphs: first, second, then rest formatted with the
// one-based paragraph number.
func paragraphs(n int, first, second, rest string) []string {
	out := make([]string, n)
	for i := range out {
		switch i {
		case 0:
			out[i] = first
		case 1:
			out[i] = second
		default:
			out[i] = fmt.Sprintf(rest, i+1)
		}
	}
	return out
}

func concept(term, definition string) model.Concept {
	return model.Concept{Term: term, Definition: strPtr(definition)}
}

func strPtr(s string) *string { return &s }
