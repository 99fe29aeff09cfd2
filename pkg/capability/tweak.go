package capability

// Tweak is Property plus an enabled flag and a setter whose error
// taxonomy distinguishes a protection violation from a generic
// failure.
type Tweak interface {
	Property
	IsEnabled() int
	SetEnabled(enable bool) error
}

// Protector gates a tweak's SetEnabled, returning ErrProtected when
// the underlying region is locked. PROT is the tweak that flips this
// lock for the others.
type Protector func() error

type storedTweak struct {
	id        ID
	available bool
	enabled   bool
	protect   Protector
}

// NewTweak returns a Tweak whose value is held in memory, gated by an
// optional Protector consulted before every SetEnabled.
func NewTweak(id ID, available bool, protect Protector) Tweak {
	return &storedTweak{id: id, available: available, protect: protect}
}

func (t *storedTweak) ID() ID            { return t.id }
func (t *storedTweak) IsAvailable() bool { return t.available }

func (t *storedTweak) StringValue() string {
	if t.enabled {
		return "1"
	}
	return "0"
}

func (t *storedTweak) IsEnabled() int {
	if t.enabled {
		return 1
	}
	return 0
}

func (t *storedTweak) SetEnabled(enable bool) error {
	if t.protect != nil {
		if err := t.protect(); err != nil {
			return err
		}
	}
	t.enabled = enable
	return nil
}

// TweakTable builds the TLST/TSET table in the fixed enumeration order
// the host relies on. protection gates RECL, RL4K, LANG, NTSC,
// and UAPP; PROT itself is never gated by the lock it controls.
func TweakTable(available map[ID]bool, protection Protector) []Tweak {
	return []Tweak{
		NewTweak(TweakRecLimit, available[TweakRecLimit], protection),
		NewTweak(TweakRecLimit4K, available[TweakRecLimit4K], protection),
		NewTweak(TweakLanguage, available[TweakLanguage], protection),
		NewTweak(TweakPalNtsc, available[TweakPalNtsc], protection),
		NewTweak(TweakUSBInstaller, available[TweakUSBInstaller], protection),
		NewTweak(TweakProtection, available[TweakProtection], nil),
	}
}
