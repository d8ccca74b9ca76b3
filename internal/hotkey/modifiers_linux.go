package hotkey

import "golang.design/x/hotkey"

func platformModifiers() map[string]hotkey.Modifier {
	return map[string]hotkey.Modifier{
		"alt":   hotkey.Mod1,
		"super": hotkey.Mod4,
		"win":   hotkey.Mod4,
	}
}
