package dialog

import (
	"math/rand"
	"sync"
)

var greetings = []string{
	"Hey there, I'm your friendly AI buddy! What's up?",
	"What's going on? Ready for a chat?",
	"Hello there! How's your day going?",
	"Hi, how's it going? Let's chat about whatever you feel like.",
	"Greetings! How's life treating you?",
	"Good day! Up for a casual conversation?",
	"Hi there! What's on your mind, or shall we just chat for fun?",
	"Hello! Lovely to see you around. What's new in your world?",
	"Hey, how's your day going? Let's have a friendly chat.",
	"Hi! Ready to have a relaxed conversation?",
}

var farewells = []string{
	"Goodbye! Have a great day!",
	"Farewell! It was nice chatting with you.",
	"Take care! Until next time.",
	"Goodbye for now! Stay awesome!",
	"Adios! Catch you later!",
	"Bye bye! Enjoy your day!",
	"See you later! It's been a pleasure.",
	"So long! Until we meet again.",
	"Goodbye, my friend! Take care.",
	"Bye for now! Stay safe and happy!",
}

var fallbacks = []string{
	"Did you just ask the meaning of life, the universe, and everything?",
	"Hmm... my circuits are tingling with curiosity!",
	"Great! Your question just made my day.",
	"Okay, but have you considered asking a cat for advice?",
	"Interesting! You must be a professional question-asker.",
	"Tell me more, and I'll tell you a joke in return!",
	"Well, you're certainly full of surprises! Or is it just random chance?",
	"I appreciate your input, even if it's stranger than fiction.",
	"I see what you mean, or at least I think I do! Can you clarify?",
	"That's a real head-scratcher, but don't worry, I won't scratch too hard!",
}

// Pools выбирает реплики приветствия, прощания и заглушки случайно и равномерно.
// Безопасен для параллельного использования.
type Pools struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPools принимает источник случайности; в тестах удобно передать rand.NewSource(seed).
func NewPools(src rand.Source) *Pools {
	return &Pools{rng: rand.New(src)}
}

func (p *Pools) Greeting() string { return p.pick(greetings) }
func (p *Pools) Farewell() string { return p.pick(farewells) }
func (p *Pools) Fallback() string { return p.pick(fallbacks) }

func (p *Pools) pick(set []string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return set[p.rng.Intn(len(set))]
}

// Greetings возвращает копию набора приветствий.
func Greetings() []string { return append([]string(nil), greetings...) }

// Farewells возвращает копию набора прощаний.
func Farewells() []string { return append([]string(nil), farewells...) }

// Fallbacks возвращает копию набора заглушек.
func Fallbacks() []string { return append([]string(nil), fallbacks...) }
