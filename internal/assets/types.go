package assets

import "strings"

type AssetType int8

const (
	TypeUnknown     AssetType = -1
	TypeTexture     AssetType = 0
	TypeSound       AssetType = 1
	TypeCallingCard AssetType = 2
	TypeLandmark    AssetType = 3
	TypeClothing    AssetType = 5
	TypeObject      AssetType = 6
	TypeNotecard    AssetType = 7
	TypeLSLText     AssetType = 10
	TypeLSLBytecode AssetType = 11
	TypeTextureTGA  AssetType = 12
	TypeBodypart    AssetType = 13
	TypeSoundWAV    AssetType = 17
	TypeImageTGA    AssetType = 18
	TypeImageJPEG   AssetType = 19
	TypeAnimation   AssetType = 20
	TypeGesture     AssetType = 21
	TypeSimstate    AssetType = 22
	TypeLink        AssetType = 24
	TypeLinkFolder  AssetType = 25
	TypeMesh        AssetType = 49
	TypeSettings    AssetType = 56
	TypeMaterial    AssetType = 57
)

type typeInfo struct {
	name        string
	contentType string
	ext         string
}

var typeTable = map[AssetType]typeInfo{
	TypeTexture:     {"texture", "image/x-j2c", "_texture.jp2"},
	TypeSound:       {"sound", "audio/ogg", "_sound.ogg"},
	TypeCallingCard: {"callingcard", "application/vnd.ll.callingcard", "_callingcard.txt"},
	TypeLandmark:    {"landmark", "application/vnd.ll.landmark", "_landmark.txt"},
	TypeClothing:    {"clothing", "application/vnd.ll.clothing", "_clothing.txt"},
	TypeObject:      {"object", "application/vnd.ll.primitive", "_object.xml"},
	TypeNotecard:    {"notecard", "application/vnd.ll.notecard", "_notecard.txt"},
	TypeLSLText:     {"lsltext", "application/vnd.ll.lsltext", "_script.lsl"},
	TypeLSLBytecode: {"lslbyte", "application/vnd.ll.lslbyte", "_bytecode.lso"},
	TypeTextureTGA:  {"txtr_tga", "image/tga", "_texture.tga"},
	TypeBodypart:    {"bodypart", "application/vnd.ll.bodypart", "_bodypart.txt"},
	TypeSoundWAV:    {"snd_wav", "audio/x-wav", "_sound.wav"},
	TypeImageTGA:    {"img_tga", "image/tga", "_image.tga"},
	TypeImageJPEG:   {"jpeg", "image/jpeg", "_image.jpg"},
	TypeAnimation:   {"animation", "application/vnd.ll.animation", "_animation.bvh"},
	TypeGesture:     {"gesture", "application/vnd.ll.gesture", "_gesture.txt"},
	TypeSimstate:    {"simstate", "application/x-metaverse-simstate", "_simstate.bin"},
	TypeLink:        {"link", "application/vnd.ll.link", "_link.txt"},
	TypeLinkFolder:  {"link_f", "application/vnd.ll.linkfolder", "_linkfolder.txt"},
	TypeMesh:        {"mesh", "application/vnd.ll.mesh", "_mesh.llmesh"},
	TypeSettings:    {"settings", "application/llsd+xml", "_settings.bin"},
	TypeMaterial:    {"material", "application/llsd+xml", "_material.bin"},
}

func (t AssetType) String() string {
	if ti, ok := typeTable[t]; ok {
		return ti.name
	}
	return "unknown"
}

func (t AssetType) ContentType() string {
	if ti, ok := typeTable[t]; ok {
		return ti.contentType
	}
	return "application/octet-stream"
}

// Extension is the archive file suffix, e.g. "_texture.jp2".
func (t AssetType) Extension() string {
	if ti, ok := typeTable[t]; ok {
		return ti.ext
	}
	return "_unknown.bin"
}

// TypeFromExtension maps an archive file name (or its suffix) back to a type.
func TypeFromExtension(name string) (AssetType, bool) {
	for t, ti := range typeTable {
		if strings.HasSuffix(name, ti.ext) {
			return t, true
		}
	}
	return TypeUnknown, false
}

func TypeFromContentType(ct string) AssetType {
	ct = strings.TrimSpace(strings.ToLower(ct))
	for t, ti := range typeTable {
		if ti.contentType == ct {
			return t
		}
	}
	return TypeUnknown
}
