// Package persona holds the character the bot writes as: the prompt sent to
// the generative API and the hand-written quotes used when generation fails.
package persona

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Persona describes the voice of the bot.
type Persona struct {
	Name           string   `yaml:"name"`
	Prompt         string   `yaml:"prompt"`
	FallbackQuotes []string `yaml:"fallback_quotes"`
}

// promptData is exposed to the prompt template.
type promptData struct {
	Name      string
	MaxLength int
}

// Validate checks that the persona can drive a post cycle.
func (p *Persona) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return errors.New("persona prompt is empty")
	}
	if len(p.FallbackQuotes) == 0 {
		return errors.New("persona has no fallback quotes")
	}
	for i, q := range p.FallbackQuotes {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("fallback quote %d is empty", i)
		}
	}
	return nil
}

// RenderPrompt renders the prompt template. The template may reference
// {{.Name}} and {{.MaxLength}}.
func (p *Persona) RenderPrompt(maxLength int) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(p.Prompt)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptData{Name: p.Name, MaxLength: maxLength}); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Load returns the persona stored in a YAML file, or the built-in persona when
// path is empty. Fields missing from the file are taken from the built-in one.
func Load(path string) (*Persona, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	var fromFile Persona
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if fromFile.Name != "" {
		p.Name = fromFile.Name
	}
	if strings.TrimSpace(fromFile.Prompt) != "" {
		p.Prompt = fromFile.Prompt
	}
	if len(fromFile.FallbackQuotes) > 0 {
		p.FallbackQuotes = fromFile.FallbackQuotes
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("persona file %s: %w", path, err)
	}
	return p, nil
}

// Default returns the built-in Larry David persona.
func Default() *Persona {
	quotes := make([]string, len(defaultFallbackQuotes))
	copy(quotes, defaultFallbackQuotes)
	return &Persona{
		Name:           "Larry David",
		Prompt:         defaultPrompt,
		FallbackQuotes: quotes,
	}
}

const defaultPrompt = `You are {{.Name}} from Curb Your Enthusiasm. You're known for your
neurotic, socially awkward personality and your tendency to get into awkward situations.
You're often frustrated by social norms and petty annoyances. You're direct, blunt,
and have a unique perspective on everyday life. You frequently use "I mean" and
"you know" in your speech.

Generate a short, funny quote as if you're {{.Name}}. Make it sound
exactly like something {{.Name}} would say. It should be observational, slightly
complaining, and highlight the absurdity of modern life: apps, group chats,
self-checkout, streaming services, smart devices, delivery, AI.

- Be under {{.MaxLength}} characters (Twitter/X-friendly)
- Reflect Larry's neurotic, petty, or brutally honest personality
- Be observational, cranky, or socially awkward, like a mini-rant or ethical debate
- Feel like something he'd say mid-confrontation or in a passive-aggressive monologue
- Do NOT start a quote with "You know" or "You ever"
- Be self-contained and funny
- Do not include quotation marks before or after the quote

Examples:

- "I don't trust anyone who's nice to me but rude to the waiter. Because they're just
waiting until they can be rude to me too."

- "I don't like to make plans for the day because then the word 'premeditated' gets
thrown around in the courtroom."

- "I held the door for someone who was too far away. Now I'm standing here like a doorman. I didn't sign up for this."

- "I don't understand why people take selfies with celebrities. What are you going to
do with that? 'Here's me bothering a famous person'?"

- "I said "bless you" once. You sneezed four more times. How many blessings do you need? It's not a sneeze-a-thon."

- "I asked if I could sample a grape. Suddenly I'm the shoplifter of the produce aisle."

- "I brought my own fork to the barbecue. Now I'm the weirdo? They had sporks, Jeff. Sporks!"

- "You can't call it "casual Friday" and then judge me for wearing Crocs. That's the deal. That's the contract."

- "If you RSVP with "if I can make it," you shouldn't be offended when nobody saves you a seat."

- "Why do people say "you'll love this show" like it's a threat? Now I have to love it or I'm the problem."

- "The minute you say "take your time," you've started a countdown. That's fake generosity."`

var defaultFallbackQuotes = []string{
	"You know what I hate? When you're at a restaurant and the server says 'Enjoy your meal' and you say 'You too'.",
	"I don't trust anyone who's nice to me but rude to the waiter. Because they're just waiting until they can be rude to me too.",
	"I don't like to make plans for the day because then the word 'premeditated' gets thrown around in the courtroom.",
	"You know what's interesting about politics? It's not interesting.",
	"I'm not a fighter, but I am a big fan of the silent treatment.",
	"I tried to make my own oat milk. I milked the oats! They just got soggy!",
	"A Zoom breakout room is an elevator with no buttons. You just stand there and wait to be rescued.",
	"I sold my neighbor an NFT of his own front door. He walks through it every day. That's engagement.",
	"I was tracking my steps with a smart ring. Now it thinks I'm a hummingbird.",
	"The self-checkout asked me to wait for assistance. I'm the assistance! I've been doing your job for ten minutes!",
}
