package transport

import (
	"fmt"
	"html/template"
)

// slideSeconds is how long each idle-page image stays in front
const slideSeconds = 3

type slide struct {
	Src   string
	Alt   string
	Delay int
}

// slideshow crossfades the idle-page images with a CSS animation, one slide every slideSeconds
type slideshow struct {
	Slides []slide
	Style  template.CSS
}

func newSlideshow(images []string) *slideshow {
	if len(images) == 0 {
		return nil
	}

	s := &slideshow{Slides: make([]slide, len(images))}
	for i, src := range images {
		s.Slides[i] = slide{Src: src, Alt: fmt.Sprintf("Slide %d", i+1), Delay: i * slideSeconds}
	}

	if len(images) == 1 {
		s.Style = ".slideshow img { opacity: 1; }"
		return s
	}

	// Each slide owns 1/n of the period and fades over its first and last second.
	n := float64(len(images))
	visible := 100 / n
	fade := visible / slideSeconds
	s.Style = template.CSS(fmt.Sprintf(
		"@keyframes peek-slide { 0%% { opacity: 0; } %.2f%% { opacity: 1; } %.2f%% { opacity: 1; } %.2f%% { opacity: 0; } 100%% { opacity: 0; } } "+
			".slideshow img { animation: peek-slide %ds linear infinite; }",
		fade, visible, visible+fade, len(images)*slideSeconds))
	return s
}
