package hostfunc

import "errors"

// KV store requests

type KVGetRequest struct {
	Key     string `json:"key"`
	Default any    `json:"default"`
}

type KVSetRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type KVDeleteRequest struct {
	Key string `json:"key"`
}

type KVKeysRequest struct {
	Prefix string `json:"prefix"`
}

func keyArg(args map[string]any) (string, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return "", errors.New("key required")
	}
	return key, nil
}

func parseKVGet(args map[string]any) (KVGetRequest, error) {
	key, err := keyArg(args)
	if err != nil {
		return KVGetRequest{}, err
	}
	return KVGetRequest{Key: key, Default: args["default"]}, nil
}

func parseKVSet(args map[string]any) (KVSetRequest, error) {
	key, err := keyArg(args)
	if err != nil {
		return KVSetRequest{}, err
	}
	value, ok := args["value"]
	if !ok {
		return KVSetRequest{}, errors.New("value required")
	}
	return KVSetRequest{Key: key, Value: value}, nil
}

func parseKVDelete(args map[string]any) (KVDeleteRequest, error) {
	key, err := keyArg(args)
	if err != nil {
		return KVDeleteRequest{}, err
	}
	return KVDeleteRequest{Key: key}, nil
}

func parseKVKeys(args map[string]any) KVKeysRequest {
	prefix, _ := args["prefix"].(string)
	return KVKeysRequest{Prefix: prefix}
}
