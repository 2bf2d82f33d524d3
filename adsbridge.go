// Package adsbridge provides flat re-exports of the bridge's submodules.
package adsbridge

import (
	"github.com/machinefabric/adsbridge-go/ability"
	"github.com/machinefabric/adsbridge-go/ads"
	"github.com/machinefabric/adsbridge-go/bifaci"
	"github.com/machinefabric/adsbridge-go/bridge"
	"github.com/machinefabric/adsbridge-go/config"
	"github.com/machinefabric/adsbridge-go/rpc"
)

// Ad facade types and functions
type Advertising = ads.Advertising
type AdLoader = ads.AdLoader
type AdRequestParams = ads.AdRequestParams
type AdOptions = ads.AdOptions
type AdDisplayOptions = ads.AdDisplayOptions
type Advertisement = ads.Advertisement
type AdLoadListener = ads.AdLoadListener
type MultiSlotsAdLoadListener = ads.MultiSlotsAdLoadListener
type NativeSDK = ads.NativeSDK
type OAIDProvider = ads.OAIDProvider
type WebController = ads.WebController
type BusinessError = ads.BusinessError

var NewAdvertising = ads.New
var NewAdLoader = ads.NewAdLoader
var NewRemoteService = ads.NewRemoteService
var NewRemoteLoader = ads.NewRemoteLoader
var RegisterWebAdInterface = ads.RegisterWebAdInterface
var DeleteWebAdInterface = ads.DeleteWebAdInterface

// Bridge protocol types
type Dispatcher = bridge.Dispatcher
type DispatcherOptions = bridge.Options
type Callback = bridge.Callback
type CallbackObject = bridge.CallbackObject
type ParseResponseListener = bridge.ParseResponseListener
type JsBridge = bridge.JsBridge
type Service = bridge.Service

var NewDispatcher = bridge.NewDispatcher
var NewService = bridge.NewService
var Chunk = bridge.Chunk

// RPC types
type MessageSequence = rpc.MessageSequence
type RemoteObject = rpc.RemoteObject
type Stub = rpc.Stub
type Conn = rpc.Conn
type Server = rpc.Server

var NewMessageSequence = rpc.NewMessageSequence
var NewStub = rpc.NewStub
var NewServer = rpc.NewServer
var DialEndpoint = rpc.DialEndpoint

// Ability connection types
type ElementName = ability.ElementName
type Want = ability.Want
type Connector = ability.Connector
type LocalConnector = ability.LocalConnector
type NetConnector = ability.NetConnector

var NewLocalConnector = ability.NewLocalConnector
var NewNetConnector = ability.NewNetConnector

// Config
type ConfigSource = config.Source
type AppConfig = config.AppConfig

var NewResolver = config.NewResolver
var NewCachedResolver = config.NewCached

// Wire types
type Frame = bifaci.Frame
type FrameType = bifaci.FrameType
type Limits = bifaci.Limits

// Protocol constants
const ProtocolVersion = bifaci.ProtocolVersion
const MaxChunkLen = bridge.MaxChunkLen
const MaxPayloadLen = bridge.MaxPayloadLen
