//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/MeKo-Tech/texturemaps/internal/maps"
	"github.com/MeKo-Tech/texturemaps/internal/pipeline"
	"github.com/MeKo-Tech/texturemaps/internal/pixel"
)

func errorResult(format string, args ...any) any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

// generate is called from JavaScript as
// texturemapsGenerate(width, height, rgba Uint8Array|Uint8ClampedArray, settingsJSON[, kinds]).
// It returns {normal, displacement, ao, specular} RGBA Uint8ClampedArrays, or {error}.
func generate(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return errorResult("missing arguments")
	}

	width, height := args[0].Int(), args[1].Int()
	pix := make([]uint8, args[2].Get("length").Int())
	js.CopyBytesToGo(pix, args[2])

	settings := maps.DefaultSettings()
	if len(args) > 3 && args[3].Type() == js.TypeString && args[3].String() != "" {
		if err := json.Unmarshal([]byte(args[3].String()), &settings); err != nil {
			return errorResult("failed to parse settings: %v", err)
		}
	}

	kinds := maps.AllKinds
	if len(args) > 4 && args[4].Type() == js.TypeString {
		var err error
		if kinds, err = maps.ParseKinds(args[4].String()); err != nil {
			return errorResult("%v", err)
		}
	}

	src, err := pixel.FromBytes(width, height, pix)
	if err != nil {
		return errorResult("%v", err)
	}

	result, err := pipeline.Run(context.Background(), src, pipeline.Request{Settings: settings, Kinds: kinds})
	if err != nil {
		return errorResult("%v", err)
	}

	out := make(map[string]any, len(kinds))
	for _, k := range result.Kinds() {
		buf := result.Get(k)
		arr := js.Global().Get("Uint8ClampedArray").New(len(buf.Pix))
		js.CopyBytesToJS(arr, buf.Pix)
		out[string(k)] = arr
	}
	return out
}

func main() {
	c := make(chan struct{})

	js.Global().Set("texturemapsGenerate", js.FuncOf(generate))

	fmt.Println("texturemaps WASM module loaded")
	<-c
}
