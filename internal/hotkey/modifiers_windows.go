package hotkey

import "golang.design/x/hotkey"

func platformModifiers() map[string]hotkey.Modifier {
	return map[string]hotkey.Modifier{
		"alt":   hotkey.ModAlt,
		"super": hotkey.ModWin,
		"win":   hotkey.ModWin,
	}
}
