package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

// parseCombo turns a textual binding such as "f8" or "ctrl+shift+d" into the
// modifier set and key understood by the OS hotkey registry. Exactly one
// non-modifier key is required.
func parseCombo(combo string) ([]hotkey.Modifier, hotkey.Key, error) {
	var (
		mods    []hotkey.Modifier
		key     hotkey.Key
		haveKey bool
	)
	for _, part := range strings.Split(strings.ToLower(combo), "+") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, 0, fmt.Errorf("empty element in hotkey combo %q", combo)
		}
		if mod, ok := modifierNames[part]; ok {
			mods = append(mods, mod)
			continue
		}
		k, ok := keyNames[part]
		if !ok {
			return nil, 0, fmt.Errorf("unknown key %q in hotkey combo %q", part, combo)
		}
		if haveKey {
			return nil, 0, fmt.Errorf("hotkey combo %q names more than one key", combo)
		}
		key = k
		haveKey = true
	}
	if !haveKey {
		return nil, 0, fmt.Errorf("hotkey combo %q names no key", combo)
	}
	return mods, key, nil
}

var modifierNames = buildModifierNames()

func buildModifierNames() map[string]hotkey.Modifier {
	names := map[string]hotkey.Modifier{
		"ctrl":    hotkey.ModCtrl,
		"control": hotkey.ModCtrl,
		"shift":   hotkey.ModShift,
	}
	for name, mod := range platformModifiers() {
		names[name] = mod
	}
	return names
}

var keyNames = buildKeyNames()

func buildKeyNames() map[string]hotkey.Key {
	names := map[string]hotkey.Key{
		"space":  hotkey.KeySpace,
		"enter":  hotkey.KeyReturn,
		"return": hotkey.KeyReturn,
		"escape": hotkey.KeyEscape,
		"esc":    hotkey.KeyEscape,
		"tab":    hotkey.KeyTab,
		"delete": hotkey.KeyDelete,
		"up":     hotkey.KeyUp,
		"down":   hotkey.KeyDown,
		"left":   hotkey.KeyLeft,
		"right":  hotkey.KeyRight,
	}
	for name, k := range map[string]hotkey.Key{
		"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
		"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
		"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
		"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
		"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
		"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
		"y": hotkey.KeyY, "z": hotkey.KeyZ,
	} {
		names[name] = k
	}
	for name, k := range map[string]hotkey.Key{
		"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
		"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
		"8": hotkey.Key8, "9": hotkey.Key9,
	} {
		names[name] = k
	}
	for name, k := range map[string]hotkey.Key{
		"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3,
		"f4": hotkey.KeyF4, "f5": hotkey.KeyF5, "f6": hotkey.KeyF6,
		"f7": hotkey.KeyF7, "f8": hotkey.KeyF8, "f9": hotkey.KeyF9,
		"f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
	} {
		names[name] = k
	}
	return names
}
