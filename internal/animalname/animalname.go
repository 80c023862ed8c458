// Package animalname derives a short, human-memorable tag from a hash
// digest, used to make state-directory names recognizable at a glance
// ("otter-3f9a1c..." beats a bare hex string when an operator is staring
// at a directory listing).
package animalname

// names is a fixed, ordered list of short animal names. The list is never
// reordered or resized across releases: doing so would silently reassign
// every existing state directory's tag on upgrade.
var names = []string{
	"aardvark", "albatross", "alligator", "alpaca", "antelope",
	"badger", "bat", "bear", "beaver", "bison",
	"boar", "buffalo", "camel", "capybara", "caribou",
	"cheetah", "chinchilla", "civet", "cobra", "cougar",
	"coyote", "crane", "crow", "deer", "dingo",
	"dolphin", "donkey", "dragonfly", "eagle", "egret",
	"elephant", "elk", "falcon", "ferret", "finch",
	"fox", "gazelle", "gecko", "gibbon", "giraffe",
	"goat", "goose", "gopher", "grouse", "hare",
	"hawk", "hedgehog", "heron", "hippo", "hornet",
	"hyena", "ibex", "ibis", "iguana", "impala",
	"jackal", "jaguar", "jay", "kangaroo", "kestrel",
	"kingfisher", "kite", "koala", "kudu", "lemur",
	"leopard", "lion", "llama", "lynx", "macaque",
	"magpie", "manatee", "marmot", "marten", "meerkat",
	"mink", "mole", "mongoose", "moose", "mouse",
	"narwhal", "newt", "ocelot", "okapi", "opossum",
	"orca", "oryx", "osprey", "ostrich", "otter",
	"owl", "oxen", "panda", "panther", "parrot",
	"peacock", "pelican", "penguin", "pheasant", "pigeon",
	"platypus", "polecat", "porcupine", "quail", "quokka",
	"rabbit", "raccoon", "ram", "raven", "reindeer",
	"rhino", "roadrunner", "robin", "salamander", "seal",
	"serval", "shark", "sheep", "shrew", "skunk",
	"sloth", "snake", "sparrow", "squirrel", "stoat",
	"stork", "swan", "tapir", "tarsier", "termite",
	"tiger", "toad", "toucan", "turtle", "vicuna",
	"viper", "vole", "vulture", "wallaby", "walrus",
	"warbler", "weasel", "whale", "wolf", "wolverine",
	"wombat", "woodpecker", "wren", "yak", "zebra",
}

// For deterministically maps a hex-encoded digest to one of the names
// above, via the digest's value modulo len(names) — the same scheme as
// indexing a fixed word list by a hashed integer. The digest is treated
// as an arbitrary-precision number without pulling in math/big: a
// hex string mod a small integer is just Horner's rule one nibble at a
// time, carrying the remainder forward.
func For(hexDigest string) string {
	mod := len(names)

	remainder := 0
	for _, r := range hexDigest {
		var digit int
		switch {
		case r >= '0' && r <= '9':
			digit = int(r - '0')
		case r >= 'a' && r <= 'f':
			digit = int(r-'a') + 10
		case r >= 'A' && r <= 'F':
			digit = int(r-'A') + 10
		default:
			continue
		}
		remainder = (remainder*16 + digit) % mod
	}
	return names[remainder]
}
