package voice

import (
	"testing"
)

func TestSentenceBuffer_Add_SingleSentence(t *testing.T) {
	b := NewSentenceBufferWithMinLen(0)

	sentences := b.Add("Hello world. ")
	if len(sentences) != 1 {
		t.Errorf("expected 1 sentence, got %d", len(sentences))
	}
	if sentences[0] != "Hello world." {
		t.Errorf("expected 'Hello world.', got %q", sentences[0])
	}
}

func TestSentenceBuffer_Add_MultipleSentences(t *testing.T) {
	b := NewSentenceBufferWithMinLen(0)

	sentences := b.Add("First sentence. Second sentence! Third one? ")
	if len(sentences) != 3 {
		t.Errorf("expected 3 sentences, got %d: %v", len(sentences), sentences)
	}
}

func TestSentenceBuffer_Add_Partial(t *testing.T) {
	b := NewSentenceBufferWithMinLen(0)

	sentences := b.Add("Hello wo")
	if len(sentences) != 0 {
		t.Errorf("expected 0 sentences for partial, got %d", len(sentences))
	}

	sentences = b.Add("rld. ")
	if len(sentences) != 1 {
		t.Errorf("expected 1 sentence, got %d", len(sentences))
	}
	if sentences[0] != "Hello world." {
		t.Errorf("expected 'Hello world.', got %q", sentences[0])
	}
}

func TestSentenceBuffer_Add_StreamingChunks(t *testing.T) {
	b := NewSentenceBufferWithMinLen(0)

	var allSentences []string
	chunks := []string{"The ", "quick ", "brown ", "fox. ", "Jumps ", "over. "}

	for _, chunk := range chunks {
		sentences := b.Add(chunk)
		allSentences = append(allSentences, sentences...)
	}

	if len(allSentences) != 2 {
		t.Errorf("expected 2 sentences, got %d: %v", len(allSentences), allSentences)
	}
}

func TestSentenceBuffer_MinLengthHoldsShortFragments(t *testing.T) {
	b := NewSentenceBufferWithMinLen(12)

	// "Hi." is shorter than the minimum, so it waits for more text.
	sentences := b.Add("Hi. ")
	if len(sentences) != 0 {
		t.Errorf("expected short fragment to be held, got %v", sentences)
	}

	sentences = b.Add("It is so good to hear from you. ")
	if len(sentences) != 1 {
		t.Fatalf("expected 1 combined sentence, got %d: %v", len(sentences), sentences)
	}
	if sentences[0] != "Hi. It is so good to hear from you." {
		t.Errorf("unexpected sentence %q", sentences[0])
	}
}

func TestSentenceBuffer_Flush(t *testing.T) {
	b := NewSentenceBuffer()

	b.Add("Incomplete sentence without period")
	remaining := b.Flush()

	if remaining != "Incomplete sentence without period" {
		t.Errorf("expected remaining text, got %q", remaining)
	}

	if b.Pending() != "" {
		t.Errorf("expected empty buffer after flush, got %q", b.Pending())
	}
}

func TestSentenceBuffer_Abbreviations(t *testing.T) {
	b := NewSentenceBufferWithMinLen(0)

	sentences := b.Add("Dr. Smith went to the store. ")
	if len(sentences) != 1 {
		t.Errorf("expected 1 sentence (Dr. should not split), got %d: %v", len(sentences), sentences)
	}
}

func TestSentenceBuffer_DecimalsDoNotSplit(t *testing.T) {
	b := NewSentenceBufferWithMinLen(0)

	sentences := b.Add("It costs 3.50 dollars today. ")
	if len(sentences) != 1 {
		t.Errorf("expected 1 sentence, got %d: %v", len(sentences), sentences)
	}
}

func TestSentenceBuffer_EmptyInput(t *testing.T) {
	b := NewSentenceBuffer()

	sentences := b.Add("")
	if len(sentences) != 0 {
		t.Errorf("expected 0 sentences for empty input, got %d", len(sentences))
	}

	remaining := b.Flush()
	if remaining != "" {
		t.Errorf("expected empty flush, got %q", remaining)
	}
}
