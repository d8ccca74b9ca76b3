package hotkey

import "golang.design/x/hotkey"

func platformModifiers() map[string]hotkey.Modifier {
	return map[string]hotkey.Modifier{
		"alt":    hotkey.ModOption,
		"option": hotkey.ModOption,
		"cmd":    hotkey.ModCmd,
		"super":  hotkey.ModCmd,
	}
}
