package hax

import (
	"github.com/MinasukiHikimuna/Culture-sub002/hax/capture"
	"github.com/MinasukiHikimuna/Culture-sub002/hax/extractor"
)

// Extract runs the one-shot path: parse the container, apply a single
// disclosure batch, decrypt and assemble. The assembled bytes may be a
// partial prefix; inspect the result to tell.
func Extract(containerBytes []byte, batch capture.Batch) ([]byte, *extractor.Result, error) {
	e, err := extractor.New(containerBytes)
	if err != nil {
		return nil, nil, err
	}

	if err := e.AddKeys(batch); err != nil {
		return nil, nil, err
	}

	res := e.Resume()
	out, _ := extractor.Assemble(res)
	return out, res, nil
}

// ExtractFullGrant decrypts a container whose whole tree is unlocked by its
// own base key, requiring no external disclosure.
func ExtractFullGrant(containerBytes []byte) ([]byte, *extractor.Result, error) {
	e, err := extractor.New(containerBytes)
	if err != nil {
		return nil, nil, err
	}

	if err := e.UseBaseKey(); err != nil {
		return nil, nil, err
	}

	res := e.Resume()
	out, _ := extractor.Assemble(res)
	return out, res, nil
}
